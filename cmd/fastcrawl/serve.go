package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/fastcrawl/internal/config"
	"github.com/nao1215/fastcrawl/internal/crawler"
	"github.com/nao1215/fastcrawl/internal/scheduler"
)

// shutdownTimeout bounds how long serve waits for running chains on exit.
const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [chain...]",
		Short: "Run chains on their schedules until interrupted",
		Long: `Serve registers every chain with the scheduler and runs it on the
schedule declared in the crawl file. A chain never overlaps with itself:
a tick that arrives while the previous run is still going is skipped.

Schedules are either "every <n> second|minute|hour|day" or a five-field
cron expression such as "*/15 * * * *". Chains without a schedule use
"` + config.DefaultSchedule + `".

Examples:
  # Serve every chain of ./fastcrawl.yaml
  fastcrawl serve

  # Run each chain once right away, then on schedule
  fastcrawl serve --now

  # Override the schedule of every chain
  fastcrawl serve --schedule "every 30 minutes"`,
		Args: cobra.ArbitraryArgs,
		RunE: runServeCmd,
	}

	addEngineFlags(cmd.Flags())
	cmd.Flags().String("schedule", "", "Schedule applied to every chain instead of the crawl file's")
	cmd.Flags().Bool("now", false, "Run each chain once immediately after start")

	return cmd
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	cfg, file, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	schedule, err := cmd.Flags().GetString("schedule")
	if err != nil {
		return err
	}
	now, err := cmd.Flags().GetBool("now")
	if err != nil {
		return err
	}
	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cmd.OutOrStdout(), cfg, file, args, serveOptions{schedule: schedule, now: now}, logger)
}

type serveOptions struct {
	// schedule overrides every chain schedule when set.
	schedule string
	// now starts every chain once when serving begins.
	now bool
}

// serve registers the selected chains and blocks until ctx is done.
func serve(ctx context.Context, out io.Writer, cfg *config.Config, file *config.File, names []string, opts serveOptions, logger *slog.Logger) error {
	decls, err := selectChains(file, names)
	if err != nil {
		return err
	}

	s, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to close record destinations", "error", err)
		}
	}()

	built, err := buildChains(cfg, file, decls, s, logger)
	if err != nil {
		return err
	}

	controller := scheduler.NewController(logger)
	processes := make([]*crawler.Process, 0, len(built))
	for _, b := range built {
		proc, err := crawler.NewProcess(b.chain, controller)
		if err != nil {
			return fmt.Errorf("chain %q: %w", b.config.Name, err)
		}
		sched := chainSchedule(b.config, opts.schedule)
		if err := proc.Schedule(sched); err != nil {
			return fmt.Errorf("chain %q: %w", b.config.Name, err)
		}
		processes = append(processes, proc)
		fmt.Fprintf(out, "Scheduled chain %s (%s) as %s\n", b.config.Name, sched, proc.Name())
	}

	controller.Start()
	var manual sync.WaitGroup
	if opts.now {
		for _, proc := range processes {
			manual.Add(1)
			go func() {
				defer manual.Done()
				if err := proc.Start(ctx, crawler.PolicyRaise); err != nil {
					logger.Error("chain failed", "chain", proc.Chain().Name(), "error", err)
				}
			}()
		}
	}

	<-ctx.Done()
	fmt.Fprintln(out, "Shutting down...")

	for _, proc := range processes {
		if err := proc.Stop(); err != nil {
			logger.Warn("failed to stop process", "task", proc.Name(), "error", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := controller.Stop(shutdownCtx); err != nil {
		logger.Warn("chains still running at shutdown", "error", err)
	}
	manual.Wait()

	for _, t := range controller.ListTasks() {
		line := fmt.Sprintf("  %s: %d run(s)", t.Name, t.Runs)
		if t.LastError != "" {
			line += ", last error: " + t.LastError
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// chainSchedule picks the override, then the chain's schedule, then the default.
func chainSchedule(c config.ChainConfig, override string) string {
	switch {
	case override != "":
		return override
	case c.Schedule != "":
		return c.Schedule
	default:
		return config.DefaultSchedule
	}
}
