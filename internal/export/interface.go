package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/iksnae/review-sweep/internal"
)

// Exporter defines the interface for all export formats
type Exporter interface {
	Export(record *internal.Record, w io.Writer) error
	Extension() string
}

// NewExporter creates a new exporter based on format. Format names are
// case-insensitive.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jsonl":
		return &JSONLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "yaml":
		return &YAMLExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %q (supported: %s)", format, strings.Join(internal.OutputFormats, ", "))
	}
}
