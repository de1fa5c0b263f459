package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	maxMatches int
	forceFull  bool
	since      string
)

var rootCmd = &cobra.Command{
	Use:   "halo-sync",
	Short: "Pull Halo match history into the local store",
	Long: `halo-sync runs the match-history sync once, for a single player
or for every stored player, and prints the run results as JSON.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().IntVar(&maxMatches, "max-matches", 0, "Stop after this many matches (defaults to SYNC_MAX_MATCHES)")
	rootCmd.PersistentFlags().BoolVar(&forceFull, "force-full", false, "Ignore the checkpoint and rewrite every match paged through")
	rootCmd.PersistentFlags().StringVar(&since, "since", "", "Only sync matches started at or after this RFC 3339 time")
}

func parseSince() (time.Time, error) {
	if since == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, since)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since: %w", err)
	}
	return t.UTC(), nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "halo-sync: %s\n", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
