// Package main provides the attend CLI entry point.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orneryd/attend/pkg/archive"
	"github.com/orneryd/attend/pkg/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "attend",
		Short: "attend - budgeted attention loop for a reasoning system",
		Long: `attend runs a cycle scheduler over bounded, priority-ordered bags of
concepts and tasks.

Features:
  • Probabilistic selection weighted by priority
  • Time-based forgetting with a configurable decay curve
  • Bounded memory with lowest-priority eviction
  • Optional archive of evicted concepts (BadgerDB)
  • Optional HTTP surface for inputs and snapshots`,
		SilenceUsage: true,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "attend v%s (%s)\n", version, commit)
		},
	})

	// Run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the attention loop",
		Long:  "Run the cycle scheduler, feeding it input lines from a file or stdin and optionally over HTTP",
		RunE:  runLoop,
	}
	runCmd.Flags().String("config", "", "YAML config file (defaults plus ATTEND_* env when empty)")
	runCmd.Flags().String("input", "", "Input file, one task per line ('-' for stdin)")
	runCmd.Flags().Int64("ticks", 0, "Stop after this many ticks (overrides cycle.max_ticks)")
	runCmd.Flags().Duration("interval", 0, "Pause between ticks (overrides cycle.tick_interval)")
	runCmd.Flags().Bool("http", false, "Enable the HTTP surface")
	runCmd.Flags().String("address", "", "HTTP listen address (overrides server.address)")
	runCmd.Flags().Bool("archive", false, "Archive evicted concepts")
	runCmd.Flags().String("data-dir", "", "Archive directory (overrides archive.data_dir)")
	runCmd.Flags().String("log-level", "", "Log level (overrides logging.level)")
	rootCmd.AddCommand(runCmd)

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE:  runInit,
	}
	initCmd.Flags().String("config", "attend.yaml", "Path of the config file to write")
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")
	rootCmd.AddCommand(initCmd)

	// Archive commands
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect the archive of evicted concepts",
	}
	archiveCmd.PersistentFlags().String("config", "", "YAML config file")
	archiveCmd.PersistentFlags().String("data-dir", "", "Archive directory (overrides archive.data_dir)")
	archiveCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print archive statistics as JSON",
		RunE:  runArchiveStats,
	})
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print archived concept records, one JSON object per line",
		RunE:  runArchiveList,
	}
	listCmd.Flags().Int("limit", 0, "Maximum records to print (0 = all)")
	archiveCmd.AddCommand(listCmd)
	rootCmd.AddCommand(archiveCmd)

	return rootCmd
}

func runInit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.WriteFile(path, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %s\n", path)
	return nil
}

// openArchive opens the store named by the archive flags and config.
func openArchive(cmd *cobra.Command) (*archive.Store, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Archive.DataDir = dir
	}
	return archive.Open(archive.Options{DataDir: cfg.Archive.DataDir})
}

func runArchiveStats(cmd *cobra.Command, args []string) error {
	store, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Stats()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

// errLimit stops ForEach once enough records are printed.
var errLimit = errors.New("limit reached")

func runArchiveList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	store, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	n := 0
	err = store.ForEach(func(rec archive.Record) error {
		if limit > 0 && n >= limit {
			return errLimit
		}
		n++
		return enc.Encode(rec)
	})
	if errors.Is(err, errLimit) {
		return nil
	}
	return err
}
