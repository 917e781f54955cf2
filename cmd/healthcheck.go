package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/review-sweep/internal"
	"github.com/spf13/cobra"
)

var (
	successStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")).
		Bold(true)

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true)

	infoStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("62")).
		Bold(true).
		Underline(true)
)

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check that a sweep could start",
	Long: `Check the health of review-sweep by verifying:
  • The config file parses and validates
  • The state store opens
  • Credentials are present for every platform
  • Every platform adapter can be constructed
  • The mailbox is readable

Nothing is sent to any platform.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, sectionStyle.Render("🔍 Review Sweep Health Check"))
		fmt.Fprintln(w)

		problems := runHealthcheck(cmd.Context(), w)

		fmt.Fprintln(w)
		if problems > 0 {
			fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("❌ Health check failed: %d problem(s)", problems)))
			return fmt.Errorf("health check failed")
		}
		fmt.Fprintln(w, successStyle.Render("✅ Health check passed"))
		return nil
	},
}

// runHealthcheck prints each step and returns the number of problems.
func runHealthcheck(ctx context.Context, w io.Writer) int {
	fmt.Fprintln(w, infoStyle.Render("Step 1: Loading config..."))
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(w, errorStyle.Render("❌ Config:"), err)
		return 1
	}
	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✅ Config valid (%d platform(s))", len(cfg.Platforms))))
	if len(cfg.Platforms) == 0 {
		fmt.Fprintln(w, warningStyle.Render("⚠️  No platforms configured"))
	}
	fmt.Fprintln(w)

	problems := 0

	fmt.Fprintln(w, infoStyle.Render("Step 2: Opening state store..."))
	store, err := internal.OpenDatabase(cfg.StorePath)
	if err != nil {
		fmt.Fprintln(w, errorStyle.Render("❌ State store:"), err)
		problems++
	} else {
		fmt.Fprintln(w, successStyle.Render("✅ State store ready"))
		if verbose {
			fmt.Fprintf(w, "   Database: %s\n", store.Path())
		}
		_ = store.Close()
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, infoStyle.Render("Step 3: Checking credentials and adapters..."))
	creds, err := internal.NewEnvCredentialSource(cfg.EnvFile)
	if err != nil {
		fmt.Fprintln(w, errorStyle.Render("❌ Env file:"), err)
		problems++
	}
	for _, p := range cfg.Platforms {
		if creds != nil {
			if _, err := creds.Credentials(ctx, p.CredentialRef); err != nil {
				fmt.Fprintln(w, errorStyle.Render("❌ "+p.ID+" credentials:"), err)
				problems++
			} else {
				fmt.Fprintln(w, successStyle.Render("✅ "+p.ID+" credentials present"))
			}
		}
		if _, err := internal.NewAdapter(p); err != nil {
			fmt.Fprintln(w, errorStyle.Render("❌ "+p.ID+" adapter:"), err)
			problems++
		} else {
			fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✅ %s adapter %q ready (%d passes)", p.ID, p.Adapter, len(p.Passes))))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, infoStyle.Render("Step 4: Reading mailbox..."))
	if cfg.Mailbox.Path == "" {
		fmt.Fprintln(w, warningStyle.Render("⚠️  No mailbox configured; records will lack the external feed"))
	} else if messages, err := internal.ReadMailbox(cfg.Mailbox.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(w, warningStyle.Render("⚠️  Mailbox file does not exist yet:"), cfg.Mailbox.Path)
		} else {
			fmt.Fprintln(w, errorStyle.Render("❌ Mailbox:"), err)
			problems++
		}
	} else {
		fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✅ Mailbox readable (%d message(s))", len(messages))))
	}
	return problems
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
}
