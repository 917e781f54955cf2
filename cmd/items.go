package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/review-sweep/internal"
	"github.com/spf13/cobra"
)

var (
	itemsPlatform string
	itemsFailed   bool
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Show the extraction state of every work item",
	Long: `List the work items recorded in the state store with their pass cursor,
failed passes, retry count and last error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, err := os.Stat(cfg.StorePath); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render("📋 No sweep has run yet"))
			return nil
		}

		store, err := internal.OpenDatabaseReadOnly(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open state store: %w", err)
		}
		defer store.Close()

		items, err := store.ListWorkItems(cmd.Context(), itemsPlatform)
		if err != nil {
			return err
		}
		if itemsFailed {
			kept := items[:0]
			for _, it := range items {
				if len(it.FailedPasses) > 0 {
					kept = append(kept, it)
				}
			}
			items = kept
		}

		passCounts := make(map[string]int, len(cfg.Platforms))
		for _, p := range cfg.Platforms {
			passCounts[p.ID] = len(p.Passes)
		}
		displayWorkItems(cmd.OutOrStdout(), items, passCounts)
		return nil
	},
}

// displayWorkItems renders items as an aligned table. passCounts gives
// the number of passes per platform, used to show the cursor.
func displayWorkItems(out io.Writer, items []*internal.WorkItem, passCounts map[string]int) {
	if len(items) == 0 {
		fmt.Fprintln(out, headerStyle.Render("📋 No work items found"))
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("📋 Found %d work item(s)", len(items))))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("Platform")+"\t"+titleStyle.Render("Item")+"\t"+titleStyle.Render("Category")+"\t"+
		titleStyle.Render("Passes")+"\t"+titleStyle.Render("Failed")+"\t"+titleStyle.Render("Retries")+"\t"+titleStyle.Render("Updated")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 100))

	for _, it := range items {
		passes := strconv.Itoa(it.PassCursor)
		if n, ok := passCounts[it.PlatformID]; ok {
			passes = fmt.Sprintf("%d/%d", it.PassCursor, n)
		}

		failed := dateStyle.Render("—")
		if len(it.FailedPasses) > 0 {
			names := make([]string, len(it.FailedPasses))
			for i, p := range it.FailedPasses {
				names[i] = strconv.Itoa(p + 1)
			}
			failed = errorStyle.Render(strings.Join(names, ","))
		}

		updated := dateStyle.Render("—")
		if !it.UpdatedAt.IsZero() {
			updated = dateStyle.Render(it.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			idStyle.Render(it.PlatformID), it.ExternalID, it.Category,
			countStyle.Render(passes), failed, strconv.Itoa(it.RetryCount), updated)
		if it.LastError != "" && verbose {
			_, _ = fmt.Fprintf(w, "\t%s\t\t\t\t\t\t\n", errorStyle.Render("last error: "+truncate(it.LastError, 80)))
		}
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// formatAge renders how long ago t was, e.g. "3h ago".
func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func init() {
	rootCmd.AddCommand(itemsCmd)
	itemsCmd.Flags().StringVarP(&itemsPlatform, "platform", "p", "", "Only show items of this platform")
	itemsCmd.Flags().BoolVar(&itemsFailed, "failed", false, "Only show items with failed passes")
}
