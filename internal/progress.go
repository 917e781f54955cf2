package internal

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

// ProgressObserver prints run progress, one line per event. It is safe
// to share between concurrently running sessions.
type ProgressObserver struct {
	mu      sync.Mutex
	w       io.Writer
	styled  bool
	verbose bool
}

// NewProgressObserver writes to w, styled when w is a terminal. With
// verbose set every pass is reported, otherwise only failed ones.
func NewProgressObserver(w io.Writer, verbose bool) *ProgressObserver {
	return &ProgressObserver{w: w, styled: isTerminal(w), verbose: verbose}
}

func (p *ProgressObserver) render(style lipgloss.Style, symbol, plain string) string {
	if p.styled {
		return style.Render(symbol)
	}
	return plain
}

func (p *ProgressObserver) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, format, args...)
}

// CategoryListed implements Observer.
func (p *ProgressObserver) CategoryListed(platformID, category string, items int) {
	p.printf("%s %s: %d items in %s\n", p.render(progressStyle, "ℹ", "*"), platformID, items, category)
}

// PassDone implements Observer.
func (p *ProgressObserver) PassDone(platformID, externalID string, pass int, name string, cached bool, err error) {
	switch {
	case err != nil:
		p.printf("  %s %s/%s pass %d (%s): %v\n", p.render(errorStyle, "✗", "FAILED"), platformID, externalID, pass+1, name, err)
	case !p.verbose:
	case cached:
		p.printf("  %s %s/%s pass %d (%s) %s\n", p.render(dimStyle, "·", "-"), platformID, externalID, pass+1, name, p.render(dimStyle, "cached", "cached"))
	default:
		p.printf("  %s %s/%s pass %d (%s)\n", p.render(successStyle, "·", "-"), platformID, externalID, pass+1, name)
	}
}

// RecordEmitted implements Observer.
func (p *ProgressObserver) RecordEmitted(r *Record) {
	status := r.Completeness.Describe(r.PassCount)
	if r.Complete() {
		p.printf("%s %s/%s: %s, %d timeline events\n", p.render(successStyle, "✓", "OK"), r.PlatformID, r.ExternalID, status, len(r.Timeline))
		return
	}
	p.printf("%s %s/%s incomplete: %s, %d timeline events\n", p.render(warningStyle, "⚠", "INCOMPLETE"), r.PlatformID, r.ExternalID, status, len(r.Timeline))
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}
