package export

import (
	"io"

	"github.com/iksnae/review-sweep/internal"
	"gopkg.in/yaml.v3"
)

// YAMLExporter exports records in YAML format. Each record is its own
// document, so a stream of records stays valid YAML.
type YAMLExporter struct{}

// Export exports a record to YAML format
func (e *YAMLExporter) Export(record *internal.Record, w io.Writer) error {
	if _, err := io.WriteString(w, "---\n"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()

	return enc.Encode(record)
}

// Extension returns the file extension for this format
func (e *YAMLExporter) Extension() string {
	return "yaml"
}
