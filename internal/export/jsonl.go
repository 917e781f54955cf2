package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/iksnae/review-sweep/internal"
)

// JSONLExporter writes each record as a single JSON line, so many
// records can share one stream
type JSONLExporter struct{}

// Export exports a record as one JSON line
func (e *JSONLExporter) Export(record *internal.Record, w io.Writer) error {
	if err := json.NewEncoder(w).Encode(record); err != nil {
		return fmt.Errorf("failed to encode record %s: %w", record.ExternalID, err)
	}
	return nil
}

// Extension returns the file extension for this format
func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
