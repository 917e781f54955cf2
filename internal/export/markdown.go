package export

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/iksnae/review-sweep/internal"
)

// MarkdownExporter renders a record as a human-readable report with its
// timeline
type MarkdownExporter struct{}

// Export exports a record to Markdown format
func (e *MarkdownExporter) Export(record *internal.Record, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "# %s / %s\n\n", record.PlatformID, record.ExternalID)

	if record.Category != "" {
		_, _ = fmt.Fprintf(w, "**Category:** %s  \n", record.Category)
	}
	_, _ = fmt.Fprintf(w, "**Run:** %s  \n", record.RunID)
	_, _ = fmt.Fprintf(w, "**Extracted:** %s  \n", record.ExtractedAt.UTC().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "**Completeness:** %s\n\n", record.Completeness.Describe(record.PassCount))

	if len(record.Fields) > 0 {
		_, _ = fmt.Fprintf(w, "## Fields\n\n| Field | Value |\n|---|---|\n")
		names := make([]string, 0, len(record.Fields))
		for name := range record.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			value := escapeCell(record.Fields[name])
			if value == "" {
				value = "_unresolved_"
			}
			_, _ = fmt.Fprintf(w, "| %s | %s |\n", name, value)
		}
		_, _ = fmt.Fprintf(w, "\n")
	}

	if len(record.PassErrors) > 0 {
		_, _ = fmt.Fprintf(w, "## Failed passes\n\n")
		passes := make([]int, 0, len(record.PassErrors))
		for p := range record.PassErrors {
			passes = append(passes, p)
		}
		sort.Ints(passes)
		for _, p := range passes {
			_, _ = fmt.Fprintf(w, "- pass %d: %s\n", p+1, record.PassErrors[p])
		}
		_, _ = fmt.Fprintf(w, "\n")
	}

	_, _ = fmt.Fprintf(w, "## Timeline\n\n")
	if len(record.Timeline) == 0 {
		_, _ = fmt.Fprintf(w, "_No events._\n")
		return nil
	}
	for _, ev := range record.Timeline {
		marker := ""
		if ev.ExternalOnly {
			marker = " _(mailbox only)_"
		}
		_, _ = fmt.Fprintf(w, "- **%s** `%s` %s → %s%s\n", ev.Timestamp.UTC().Format("2006-01-02 15:04"), ev.Type, ev.ActorFrom, ev.ActorTo, marker)
		if ev.RawExcerpt != "" {
			_, _ = fmt.Fprintf(w, "  > %s\n", escapeMarkdown(ev.RawExcerpt))
		}
	}

	return nil
}

// escapeMarkdown escapes markdown emphasis in free text
func escapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "\\*\\*")
	text = strings.ReplaceAll(text, "__", "\\_\\_")
	return strings.ReplaceAll(text, "\n", " ")
}

func escapeCell(text string) string {
	return strings.ReplaceAll(escapeMarkdown(text), "|", "\\|")
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
