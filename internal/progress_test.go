package internal

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestProgressObserver(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		emit    func(p *ProgressObserver)
		want    []string
		notWant []string
	}{
		{
			name: "category",
			emit: func(p *ProgressObserver) { p.CategoryListed("em", "under_review", 3) },
			want: []string{"em: 3 items in under_review"},
		},
		{
			name: "failed pass always shown",
			emit: func(p *ProgressObserver) {
				p.PassDone("em", "MS-1", 1, "reviewers", false, errors.New("boom"))
			},
			want: []string{"FAILED em/MS-1 pass 2 (reviewers): boom"},
		},
		{
			name: "passes hidden when quiet",
			emit: func(p *ProgressObserver) {
				p.PassDone("em", "MS-1", 0, "summary", true, nil)
				p.PassDone("em", "MS-1", 1, "reviewers", false, nil)
			},
			notWant: []string{"summary", "reviewers"},
		},
		{
			name:    "passes shown when verbose",
			verbose: true,
			emit: func(p *ProgressObserver) {
				p.PassDone("em", "MS-1", 0, "summary", true, nil)
				p.PassDone("em", "MS-1", 1, "reviewers", false, nil)
			},
			want: []string{"pass 1 (summary) cached", "pass 2 (reviewers)"},
		},
		{
			name: "complete record",
			emit: func(p *ProgressObserver) {
				p.RecordEmitted(&Record{PlatformID: "em", ExternalID: "MS-1", PassCount: 1, Completeness: CompletenessFlags(0).WithPass(0) | FlagExternalFeed})
			},
			want: []string{"OK em/MS-1: passes 1 of 1; external feed, 0 timeline events"},
		},
		{
			name: "incomplete record",
			emit: func(p *ProgressObserver) {
				p.RecordEmitted(&Record{PlatformID: "em", ExternalID: "MS-2", PassCount: 2, Timeline: Timeline{{}}})
			},
			want: []string{"INCOMPLETE em/MS-2 incomplete: no passes of 2, 1 timeline events"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := NewProgressObserver(&buf, tt.verbose)
			tt.emit(p)
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output %q does not contain %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("output %q should not contain %q", out, w)
				}
			}
		})
	}
}

func TestIsTerminal_Buffer(t *testing.T) {
	if isTerminal(&bytes.Buffer{}) {
		t.Error("isTerminal(buffer) = true")
	}
}
