package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/iksnae/review-sweep/internal"
	"github.com/iksnae/review-sweep/internal/export"
	"github.com/spf13/cobra"
)

var (
	runPlatforms  []string
	runCategories []string
	runFormat     string
	runOutputDir  string
	runStdout     bool
	runID         string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sweep the configured platforms",
	Long: `Log in to each platform, extract every item of the selected categories
and write one reconciled record per item.

Records go to output.dir from the config (or --output, or the records
directory next to the state store), one JSONL stream
per platform or one file per item for the other formats. Use --stdout to
print them instead. Interrupting a sweep keeps every finished pass in the
cache; the next run resumes from there.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if runFormat != "" {
			cfg.Output.Format = runFormat
		}
		if runOutputDir != "" {
			cfg.Output.Dir = runOutputDir
		}

		store, err := internal.OpenDatabase(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open state store: %w", err)
		}
		defer store.Close()

		creds, err := internal.NewEnvCredentialSource(cfg.EnvFile)
		if err != nil {
			return err
		}

		var mailbox *internal.MailboxSource
		if cfg.Mailbox.Path != "" {
			mailbox, err = internal.NewMailboxSource(cfg.Mailbox)
			if err != nil {
				return fmt.Errorf("failed to open mailbox: %w", err)
			}
		} else {
			internal.LogWarn("No mailbox configured; records will lack the external feed")
		}

		id := runID
		if id == "" {
			id = uuid.NewString()
		}

		var sink internal.RecordSink
		var fileSink *export.FileSink
		if runStdout || cfg.Output.Dir == "" {
			sink, err = export.NewStreamSink(cmd.OutOrStdout(), cfg.Output.Format)
		} else {
			fileSink, err = export.NewFileSink(cfg.Output.Dir, cfg.Output.Format, id)
			sink = fileSink
		}
		if err != nil {
			return err
		}
		if fileSink != nil {
			defer func() {
				if err := fileSink.Close(); err != nil {
					internal.LogWarn("Failed to close output files: %v", err)
				}
			}()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner := internal.NewRunner(internal.RunnerOptions{
			Config:      cfg,
			Store:       store,
			Credentials: creds,
			Sink:        sink,
			Mailbox:     mailbox,
			Observer:    internal.NewProgressObserver(cmd.ErrOrStderr(), verbose),
			RunID:       id,
		})
		results, err := runner.Run(ctx, runPlatforms, runCategories)
		if err != nil {
			return err
		}

		failed := printRunResults(cmd.ErrOrStderr(), results)
		if fileSink != nil {
			for _, p := range fileSink.Paths() {
				internal.LogDebug("Wrote %s", p)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", infoStyle.Render("Records written to"), cfg.Output.Dir)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d sessions failed (run %s)", failed, len(results), id)
		}
		return nil
	},
}

// printRunResults writes one summary line per session and returns the
// number of sessions that ended with an error.
func printRunResults(w io.Writer, results []internal.SessionResult) int {
	failed := 0
	for _, res := range results {
		s := res.Summary
		if s == nil {
			s = &internal.RunSummary{PlatformID: res.PlatformID}
		}
		line := fmt.Sprintf("%s: %d items, %d complete, %d incomplete (passes: %d fetched, %d cached, %d failed) in %s",
			res.PlatformID, s.Items, s.Complete, s.Incomplete, s.FetchedPasses, s.CachedPasses, s.FailedPasses, s.Duration.Round(time.Millisecond))
		switch {
		case res.Err != nil:
			failed++
			fmt.Fprintln(w, errorStyle.Render("✗ "+line))
			fmt.Fprintf(w, "   %v\n", res.Err)
		case s.Incomplete > 0 || s.ListingErrors > 0:
			fmt.Fprintln(w, warningStyle.Render("! "+line))
		default:
			fmt.Fprintln(w, successStyle.Render("✓ "+line))
		}
	}
	return failed
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringSliceVarP(&runPlatforms, "platform", "p", nil, "Platforms to sweep (default: all configured)")
	runCmd.Flags().StringSliceVar(&runCategories, "category", nil, "Categories to list (default: the platform's categories)")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "", "Output format: jsonl, json, yaml, md (default: output.format)")
	runCmd.Flags().StringVarP(&runOutputDir, "output", "o", "", "Output directory (default: output.dir)")
	runCmd.Flags().BoolVar(&runStdout, "stdout", false, "Write records to stdout instead of files")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier stamped on every record (default: random UUID)")
}
