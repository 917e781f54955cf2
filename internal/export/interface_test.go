package export

import (
	"fmt"
	"testing"
)

func TestNewExporter(t *testing.T) {
	tests := []struct {
		format   string
		wantType string
		wantExt  string
		wantErr  bool
	}{
		{format: "jsonl", wantType: "*export.JSONLExporter", wantExt: "jsonl"},
		{format: "md", wantType: "*export.MarkdownExporter", wantExt: "md"},
		{format: "markdown", wantType: "*export.MarkdownExporter", wantExt: "md"},
		{format: "yaml", wantType: "*export.YAMLExporter", wantExt: "yaml"},
		{format: "json", wantType: "*export.JSONExporter", wantExt: "json"},
		{format: " YAML ", wantType: "*export.YAMLExporter", wantExt: "yaml"},
		{format: "xml", wantErr: true},
		{format: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("format "+tt.format, func(t *testing.T) {
			exporter, err := NewExporter(tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewExporter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if exporter != nil {
					t.Errorf("NewExporter() returned exporter %T, want nil", exporter)
				}
				return
			}
			if got := fmt.Sprintf("%T", exporter); got != tt.wantType {
				t.Errorf("NewExporter() type = %s, want %s", got, tt.wantType)
			}
			if got := exporter.Extension(); got != tt.wantExt {
				t.Errorf("Extension() = %v, want %v", got, tt.wantExt)
			}
		})
	}
}
