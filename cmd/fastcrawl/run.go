package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/fastcrawl/internal/config"
	"github.com/nao1215/fastcrawl/internal/crawler"
	"github.com/nao1215/fastcrawl/internal/model"
	"github.com/nao1215/fastcrawl/internal/pipeline"
	"github.com/nao1215/fastcrawl/internal/report"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [chain...]",
		Short: "Run chains once and print a summary",
		Long: `Run executes the chains of the crawl file once, saves every extracted
record and prints a summary of each stage.

Chains run concurrently (see --concurrency); the stages of one chain run
in order. Records are saved to the SQLite store in the XDG data directory
unless --no-db is given.

Examples:
  # Run every chain of ./fastcrawl.yaml
  fastcrawl run

  # Run one chain of a specific crawl file
  fastcrawl run -c shop.yaml books

  # Write records as JSON lines and a Markdown summary
  fastcrawl run -r records.jsonl --markdown -o report.md

  # Crawl through an embedded Tor daemon
  fastcrawl run --tor`,
		Args: cobra.ArbitraryArgs,
		RunE: runRunCmd,
	}

	addEngineFlags(cmd.Flags())
	cmd.Flags().IntP("concurrency", "p", config.DefaultMaxConcurrentChains,
		"Number of chains run at the same time")
	cmd.Flags().Bool("raise", false,
		"Return stage failures as errors instead of logging them")

	cmd.Flags().BoolP("json", "j", false,
		"Output a JSON summary (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output a Markdown summary (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write the summary to the specified file path (creates directories if needed)")

	return cmd
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	cfg, file, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runChains(ctx, cmd.OutOrStdout(), cfg, file, args, logger)
}

// runChains runs the selected chains once and writes the summary.
func runChains(ctx context.Context, out io.Writer, cfg *config.Config, file *config.File, names []string, logger *slog.Logger) error {
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
	runners := make([]pipeline.ChainRunner, len(built))
	for i, b := range built {
		runners[i] = b.chain
	}

	policy := crawler.PolicySilent
	if !cfg.Silent {
		policy = crawler.PolicyRaise
	}
	bp := pipeline.NewBatchProcessor(
		pipeline.WithConcurrency(cfg.MaxConcurrentChains),
		pipeline.WithPolicy(policy),
		pipeline.WithBatchLogger(logger),
	)

	logger.Info("starting run",
		"chains", len(runners),
		"concurrency", cfg.MaxConcurrentChains,
		"destinations", s.destinations(),
	)
	fmt.Fprintf(out, "Running %d chain(s) (concurrency: %d)...\n", len(runners), cfg.MaxConcurrentChains)

	summary := &model.RunSummary{StartedAt: time.Now()}
	var (
		mu       sync.Mutex
		failures []error
	)
	runErr := bp.RunWithCallback(ctx, runners, func(r pipeline.ChainResult, index int) {
		mu.Lock()
		defer mu.Unlock()

		summary.Stages = append(summary.Stages, r.Stages...)
		status := "completed"
		if r.Err != nil {
			status = "failed"
			failures = append(failures, fmt.Errorf("chain %q: %w", r.Chain, r.Err))
		}
		fmt.Fprintf(out, "[%d/%d] Chain %s: %s\n", index+1, len(runners), status, r.Chain)
	})
	summary.FinishedAt = time.Now()
	fmt.Fprintf(out, "Run finished in %s\n\n", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))

	if err := outputReport(out, cfg, summary); err != nil {
		logger.Error("report failed", "error", err)
	}
	return errors.Join(append(failures, runErr)...)
}

// outputReport writes the summary in the requested format.
func outputReport(stdout io.Writer, cfg *config.Config, summary *model.RunSummary) error {
	output := stdout
	if cfg.ReportFile != "" {
		if dir := filepath.Dir(cfg.ReportFile); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	var w report.Writer
	switch {
	case cfg.JSONReport:
		w = report.NewJSONWriter(output, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case cfg.MarkdownReport:
		w = report.NewMarkdownWriter(output)
	default:
		w = report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	}
	_, err := w.Write(summary)
	return err
}
