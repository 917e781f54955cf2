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

	"github.com/iksnae/review-sweep/internal"
	"github.com/spf13/cobra"
)

var cacheClearPlatform string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear cached pass results",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cached pass results per platform",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, err := os.Stat(cfg.StorePath); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render("🗄  Cache is empty"))
			return nil
		}
		store, err := internal.OpenDatabaseReadOnly(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open state store: %w", err)
		}
		defer store.Close()

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		displayCacheStats(cmd.OutOrStdout(), stats, cfg.Cache.TTL, time.Now())
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached pass results so the next run extracts again",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cacheClearPlatform != "" {
			if _, ok := cfg.Platform(cacheClearPlatform); !ok {
				internal.LogWarn("Platform %s is not in the config", cacheClearPlatform)
			}
		}
		store, err := internal.OpenDatabase(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open state store: %w", err)
		}
		defer store.Close()

		n, err := store.ClearEntries(cmd.Context(), cacheClearPlatform)
		if err != nil {
			return err
		}
		scope := "all platforms"
		if cacheClearPlatform != "" {
			scope = cacheClearPlatform
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("✅ Cleared %d cache entr%s for %s", n, plural(n, "y", "ies"), scope)))
		return nil
	},
}

func displayCacheStats(out io.Writer, stats []internal.CacheStats, ttl time.Duration, now time.Time) {
	if len(stats) == 0 {
		fmt.Fprintln(out, headerStyle.Render("🗄  Cache is empty"))
		return
	}
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("🗄  Cached results (ttl %s)", ttl)))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("Platform")+"\t"+titleStyle.Render("Items")+"\t"+titleStyle.Render("Entries")+"\t"+
		titleStyle.Render("Oldest")+"\t"+titleStyle.Render("Newest")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 72))
	for _, st := range stats {
		oldest := dateStyle.Render(formatAge(st.Oldest, now))
		if ttl > 0 && now.Sub(st.Oldest) > ttl {
			oldest = warningStyle.Render(formatAge(st.Oldest, now) + " (expired)")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n",
			idStyle.Render(st.PlatformID), countStyle.Render(strconv.Itoa(st.Items)), strconv.Itoa(st.Entries),
			oldest, dateStyle.Render(formatAge(st.Newest, now)))
	}
	_ = w.Flush()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatusCmd, cacheClearCmd)
	cacheClearCmd.Flags().StringVarP(&cacheClearPlatform, "platform", "p", "", "Only clear entries of this platform")
}
