package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/iksnae/review-sweep/internal"
	"github.com/iksnae/review-sweep/internal/export"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	reconcileEvents       string
	reconcileMailbox      string
	reconcileItem         string
	reconcilePlatform     string
	reconcileParticipants []string
	reconcileFormat       string
	reconcileWindow       time.Duration
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Merge a saved activity log with a mailbox without contacting any platform",
	Long: `Reconcile a platform activity log saved as YAML or JSON with a JSONL
mailbox and print the merged timeline as a record.

The activity log is a list of events:

  - timestamp: 2025-07-16T09:15:00Z
    from: editor@journal.org
    to: referee@uni.edu
    type: invitation_sent

Mailbox messages are matched against the event actors plus any
--participant, within the configured margin around the events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := reconcileConfig()
		if err != nil {
			return err
		}
		mailboxPath := reconcileMailbox
		if mailboxPath == "" {
			mailboxPath = cfg.Mailbox.Path
		}
		if mailboxPath == "" {
			return fmt.Errorf("no mailbox: pass --mailbox or set mailbox.path")
		}
		window := cfg.Timeline.Window
		if reconcileWindow > 0 {
			window = reconcileWindow
		}

		raw, err := loadPlatformEvents(reconcileEvents)
		if err != nil {
			return err
		}
		mailbox, err := internal.NewMailboxSource(internal.MailboxConfig{Path: mailboxPath, CodePattern: cfg.Mailbox.CodePattern})
		if err != nil {
			return err
		}

		normalizer := internal.NewNormalizer(cfg.Timeline.SubjectRules)
		reconciler := internal.NewReconciler(window, cfg.Timeline.TypeEquivalence)
		now := time.Now().UTC()

		platform := normalizer.PlatformEvents(raw, reconcileItem)
		key := internal.NewCorrelationKey(reconcileItem, reconcileParticipants, platform, cfg.Timeline.Margin, cfg.Timeline.Lookback, now)
		messages, err := mailbox.FetchEvents(cmd.Context(), key)
		if err != nil {
			return err
		}
		external := normalizer.ExternalEvents(messages, key.String())

		record := &internal.Record{
			RunID:        "offline",
			PlatformID:   reconcilePlatform,
			ExternalID:   reconcileItem,
			Fields:       map[string]string{},
			Timeline:     reconciler.Reconcile(platform, external),
			Completeness: internal.FlagExternalFeed,
			ExtractedAt:  now,
		}
		internal.LogInfo("Reconciled %d platform and %d mailbox events into %d", len(platform), len(external), len(record.Timeline))

		exporter, err := export.NewExporter(reconcileFormat)
		if err != nil {
			return err
		}
		return exporter.Export(record, cmd.OutOrStdout())
	},
}

// reconcileConfig uses the config file when there is one. The command
// works without it.
func reconcileConfig() (*internal.Config, error) {
	if configPath == "" {
		paths, err := internal.DetectPaths()
		if err != nil {
			return internal.DefaultConfig(), nil
		}
		if _, err := os.Stat(paths.ConfigPath()); errors.Is(err, fs.ErrNotExist) {
			return internal.DefaultConfig(), nil
		}
	}
	return loadConfig()
}

func loadPlatformEvents(path string) ([]internal.RawPlatformEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	var events []internal.RawPlatformEvent
	if err := yaml.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to parse events %s: %w", path, err)
	}
	return events, nil
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().StringVarP(&reconcileEvents, "events", "e", "", "Platform activity log (YAML or JSON list)")
	reconcileCmd.Flags().StringVarP(&reconcileMailbox, "mailbox", "m", "", "JSONL mailbox (default: mailbox.path)")
	reconcileCmd.Flags().StringVarP(&reconcileItem, "item", "i", "", "Work item id, also matched in subjects")
	reconcileCmd.Flags().StringVarP(&reconcilePlatform, "platform", "p", "offline", "Platform id stamped on the record")
	reconcileCmd.Flags().StringSliceVar(&reconcileParticipants, "participant", nil, "Extra participant addresses")
	reconcileCmd.Flags().StringVarP(&reconcileFormat, "format", "f", "md", "Output format: jsonl, json, yaml, md")
	reconcileCmd.Flags().DurationVar(&reconcileWindow, "window", 0, "Deduplication window (default: timeline.window)")
	_ = reconcileCmd.MarkFlagRequired("events")
}
