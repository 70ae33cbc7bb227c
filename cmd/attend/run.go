package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/orneryd/attend/pkg/archive"
	"github.com/orneryd/attend/pkg/config"
	"github.com/orneryd/attend/pkg/cycle"
	"github.com/orneryd/attend/pkg/logging"
	"github.com/orneryd/attend/pkg/novelty"
	"github.com/orneryd/attend/pkg/server"
)

func runLoop(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	log, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	fmt.Fprintf(out, "🚀 Starting attend v%s\n", version)
	fmt.Fprintf(out, "   %s\n", cfg)

	var opts []cycle.Option
	opts = append(opts, cycle.WithReporter(logReporter{log: logging.Component(log, "reporter")}))

	if cfg.Archive.Enabled {
		store, err := archive.Open(archive.Options{
			DataDir:    cfg.Archive.DataDir,
			InMemory:   cfg.Archive.InMemory,
			SyncWrites: cfg.Archive.SyncWrites,
			Logger:     archive.NewLogger(logging.Component(log, "archive")),
		})
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, cycle.WithArchive(store))
		fmt.Fprintf(out, "✅ Archive open at %s\n", cfg.Archive.DataDir)
	}

	inbox := cycle.NewInbox(cycle.InboxOptions{
		Size:  cfg.Input.InboxSize,
		Rate:  cfg.Input.Rate,
		Burst: cfg.Input.Burst,
		Novelty: novelty.New(novelty.Options{
			Size:              cfg.Input.NoveltySize,
			Window:            cfg.Input.DuplicateWindow,
			RepeatProbability: cfg.Input.RepeatProbability,
		}),
	})
	opts = append(opts, cycle.WithInbox(inbox))

	ccfg := cycle.ConfigFrom(cfg)
	ccfg.Logger = log
	sched, err := cycle.New(ccfg, cycle.NopDeriver{}, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *server.Server
	if cfg.Server.Enabled {
		scfg := server.DefaultConfig()
		scfg.Address = cfg.Server.Address
		scfg.Logger = log
		srv, err = server.New(sched, version, scfg)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ HTTP API listening on http://%s\n", srv.Addr())
	}

	if path, _ := cmd.Flags().GetString("input"); path != "" {
		r, closer, err := openInput(cmd, path)
		if err != nil {
			return err
		}
		defer closer.Close()
		go feed(ctx, sched, r, cfg.Cycle.TickInterval, logging.Component(log, "input"))
	}

	fmt.Fprintln(out, "✅ Attention loop running (Ctrl+C to stop)")
	runErr := sched.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	fmt.Fprintln(out, "\n🛑 Shutting down...")
	sched.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown failed")
		}
	}

	snap := sched.Snapshot()
	fmt.Fprintf(out, "   ticks=%d concepts=%d pending=%d derived=%d evicted=%d\n",
		snap.Tick, snap.Concepts.Size, snap.Pending.Size, snap.Stats.Derived, snap.Stats.Evicted)
	fmt.Fprintln(out, "✅ Stopped")
	return runErr
}

// loadRunConfig loads the config file (or env) and applies flag overrides.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("ticks") {
		cfg.Cycle.MaxTicks, _ = flags.GetInt64("ticks")
	}
	if flags.Changed("interval") {
		cfg.Cycle.TickInterval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("http") {
		cfg.Server.Enabled, _ = flags.GetBool("http")
	}
	if addr, _ := flags.GetString("address"); addr != "" {
		cfg.Server.Address = addr
	}
	if flags.Changed("archive") {
		cfg.Archive.Enabled, _ = flags.GetBool("archive")
	}
	if dir, _ := flags.GetString("data-dir"); dir != "" {
		cfg.Archive.DataDir = dir
	}
	if level, _ := flags.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, cfg.Validate()
}

func openInput(cmd *cobra.Command, path string) (io.Reader, io.Closer, error) {
	if path == "-" {
		rc := io.NopCloser(cmd.InOrStdin())
		return rc, rc, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, f, nil
}

// feed parses r line by line and submits each task to the scheduler's inbox.
// Blank lines and lines starting with '#' are skipped. A full inbox is
// retried after backoff; any other refusal is logged and the line dropped.
func feed(ctx context.Context, sched *cycle.Scheduler, r io.Reader, backoff time.Duration, log zerolog.Logger) {
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	inbox := sched.Inbox()
	scanner := bufio.NewScanner(r)
	lines := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines++
		t, err := cycle.ParseInput(sched.Interner(), line, nil, sched.Snapshot().Tick)
		if err != nil {
			log.Warn().Err(err).Int("line", lines).Msg("skipping input")
			continue
		}
		for {
			err = inbox.SubmitWait(ctx, t)
			if !errors.Is(err, cycle.ErrInboxFull) {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, cycle.ErrStopped), ctx.Err() != nil:
			return
		default:
			log.Debug().Err(err).Str("input", line).Msg("input refused")
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("input read failed")
	}
	log.Info().Int("lines", lines).Msg("input exhausted")
}

// logReporter logs every task the scheduler drops and every concept it
// evicts.
type logReporter struct {
	log zerolog.Logger
}

func (r logReporter) Removed(t *cycle.Task, reason string) {
	r.log.Debug().Str("task", t.Key()).Str("reason", reason).Msg("task removed")
}

func (r logReporter) Evicted(c *cycle.Concept) {
	r.log.Debug().Str("concept", c.Key()).Msg("concept evicted")
}
