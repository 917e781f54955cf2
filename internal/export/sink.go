package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/iksnae/review-sweep/internal"
)

// FileSink writes records under a directory. JSONL records of one
// platform are appended to <platform>-<run>.jsonl; other formats get
// one file per record at <platform>/<external id>.<ext>.
type FileSink struct {
	mu       sync.Mutex
	dir      string
	runID    string
	exporter Exporter
	streams  map[string]*os.File
	paths    []string
}

// NewFileSink creates dir if needed.
func NewFileSink(dir, format, runID string) (*FileSink, error) {
	exporter, err := NewExporter(format)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileSink{
		dir:      dir,
		runID:    runID,
		exporter: exporter,
		streams:  make(map[string]*os.File),
	}, nil
}

// OnRecord implements internal.RecordSink.
func (s *FileSink) OnRecord(ctx context.Context, r *internal.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exporter.(*JSONLExporter); ok {
		f, err := s.stream(r.PlatformID)
		if err != nil {
			return err
		}
		return s.exporter.Export(r, f)
	}

	path := filepath.Join(s.dir, safeName(r.PlatformID), safeName(r.ExternalID)+"."+s.exporter.Extension())
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := s.exporter.Export(r, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export record %s: %w", r.ExternalID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	s.paths = append(s.paths, path)
	internal.LogDebug("Wrote %s", path)
	return nil
}

func (s *FileSink) stream(platformID string) (*os.File, error) {
	if f, ok := s.streams[platformID]; ok {
		return f, nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%s.jsonl", safeName(platformID), s.runID))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	s.streams[platformID] = f
	s.paths = append(s.paths, path)
	return f, nil
}

// Paths lists the files written so far.
func (s *FileSink) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// Close closes the JSONL streams.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, f := range s.streams {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.streams, id)
	}
	return firstErr
}

// StreamSink writes every record to one writer, e.g. stdout.
type StreamSink struct {
	mu       sync.Mutex
	w        io.Writer
	exporter Exporter
}

// NewStreamSink creates a StreamSink for format.
func NewStreamSink(w io.Writer, format string) (*StreamSink, error) {
	exporter, err := NewExporter(format)
	if err != nil {
		return nil, err
	}
	return &StreamSink{w: w, exporter: exporter}, nil
}

// OnRecord implements internal.RecordSink.
func (s *StreamSink) OnRecord(ctx context.Context, r *internal.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exporter.Export(r, s.w)
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}
