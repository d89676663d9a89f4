package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/fastcrawl/internal/crawler"
	"github.com/nao1215/fastcrawl/internal/model"
)

// ChainRunner is a crawl chain. *crawler.Chain implements it.
type ChainRunner interface {
	Name() string
	Start(ctx context.Context, policy crawler.ErrorPolicy) error
	Stats() []model.StageStats
}

// ChainResult is the outcome of one chain.
type ChainResult struct {
	Chain  string
	Stages []model.StageStats
	Err    error
}

// BatchProcessor runs several chains concurrently.
type BatchProcessor struct {
	// concurrency is the maximum number of chains running at once.
	concurrency int

	// policy is passed to every chain.
	policy crawler.ErrorPolicy

	logger *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent chains.
// Default is 4 if not specified.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithPolicy sets the error policy passed to every chain.
func WithPolicy(p crawler.ErrorPolicy) BatchOption {
	return func(b *BatchProcessor) {
		b.policy = p
	}
}

// NewBatchProcessor creates a new BatchProcessor.
func NewBatchProcessor(opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		concurrency: 4,
		policy:      crawler.PolicySilent,
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// Run starts every chain, at most concurrency at a time, and returns one
// result per chain in input order. A failing chain does not stop the
// others; the returned error is only set when ctx is canceled.
func (bp *BatchProcessor) Run(ctx context.Context, chains []ChainRunner) ([]ChainResult, error) {
	results := make([]ChainResult, len(chains))
	err := bp.RunWithCallback(ctx, chains, func(r ChainResult, i int) {
		results[i] = r
	})
	return results, err
}

// RunWithCallback runs the chains like Run and calls callback as each one
// finishes. The callback is called from the goroutine that ran the chain.
func (bp *BatchProcessor) RunWithCallback(ctx context.Context, chains []ChainRunner, callback func(result ChainResult, index int)) error {
	bp.logger.Info("starting chains",
		"total_chains", len(chains),
		"concurrency", bp.concurrency,
	)
	startTime := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, chain := range chains {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			bp.logger.Info("running chain",
				"chain", chain.Name(),
				"index", i+1,
				"total", len(chains),
			)
			err := chain.Start(ctx, bp.policy)
			result := ChainResult{Chain: chain.Name(), Stages: chain.Stats(), Err: err}
			callback(result, i)

			if err != nil {
				bp.logger.Warn("chain failed",
					"chain", chain.Name(),
					"error", err,
				)
				// Other chains keep running.
				return nil
			}
			bp.logger.Info("chain completed", "chain", chain.Name())
			return nil
		})
	}

	err := g.Wait()
	bp.logger.Info("chains complete",
		"total_chains", len(chains),
		"elapsed", time.Since(startTime),
	)
	return err
}
