package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/fastcrawl/internal/crawler"
	"github.com/nao1215/fastcrawl/internal/model"
)

// fakeChain is a test helper that implements ChainRunner.
type fakeChain struct {
	name    string
	startFn func(ctx context.Context) error
}

func (f *fakeChain) Name() string { return f.name }

func (f *fakeChain) Start(ctx context.Context, policy crawler.ErrorPolicy) error {
	var err error
	if f.startFn != nil {
		err = f.startFn(ctx)
	}
	if policy == crawler.PolicySilent {
		return nil
	}
	return err
}

func (f *fakeChain) Stats() []model.StageStats {
	return []model.StageStats{{Chain: f.name, Stage: "only"}}
}

// TestBatchProcessorNew tests the BatchProcessor constructor.
func TestBatchProcessorNew(t *testing.T) {
	t.Parallel()

	bp := NewBatchProcessor()
	if bp.concurrency != 4 || bp.policy != crawler.PolicySilent || bp.logger == nil {
		t.Errorf("unexpected defaults %+v", bp)
	}
	if bp := NewBatchProcessor(WithConcurrency(0)); bp.concurrency != 4 {
		t.Errorf("non-positive concurrency must keep the default, got %d", bp.concurrency)
	}
	bp = NewBatchProcessor(WithConcurrency(2), WithPolicy(crawler.PolicyRaise), WithBatchLogger(quietLogger()))
	if bp.concurrency != 2 || bp.policy != crawler.PolicyRaise {
		t.Errorf("options not applied %+v", bp)
	}
}

// TestBatchProcessorRun tests concurrent chain execution.
func TestBatchProcessorRun(t *testing.T) {
	t.Parallel()

	t.Run("keeps result order and isolates failures", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("chain failed")
		chains := []ChainRunner{
			&fakeChain{name: "first"},
			&fakeChain{name: "fail", startFn: func(context.Context) error { return boom }},
			&fakeChain{name: "third"},
		}
		bp := NewBatchProcessor(WithPolicy(crawler.PolicyRaise), WithBatchLogger(quietLogger()))
		results, err := bp.Run(context.Background(), chains)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i, r := range results {
			if r.Chain != chains[i].Name() {
				t.Errorf("result[%d]: got %q", i, r.Chain)
			}
			if len(r.Stages) != 1 {
				t.Errorf("result[%d]: expected stage stats", i)
			}
		}
		if !errors.Is(results[1].Err, boom) || results[0].Err != nil {
			t.Errorf("unexpected errors %v %v", results[0].Err, results[1].Err)
		}
	})

	t.Run("respects concurrency limit", func(t *testing.T) {
		t.Parallel()

		var current, peak atomic.Int32
		var mu sync.Mutex
		chains := make([]ChainRunner, 8)
		for i := range chains {
			chains[i] = &fakeChain{name: "c", startFn: func(context.Context) error {
				n := current.Add(1)
				mu.Lock()
				if n > peak.Load() {
					peak.Store(n)
				}
				mu.Unlock()
				time.Sleep(30 * time.Millisecond)
				current.Add(-1)
				return nil
			}}
		}

		if _, err := NewBatchProcessor(WithConcurrency(2), WithBatchLogger(quietLogger())).Run(context.Background(), chains); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if peak.Load() > 2 {
			t.Errorf("peak concurrency %d, expected <= 2", peak.Load())
		}
	})

	t.Run("handles context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		var started atomic.Int32
		chains := make([]ChainRunner, 10)
		for i := range chains {
			chains[i] = &fakeChain{name: "slow", startFn: func(ctx context.Context) error {
				started.Add(1)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Second):
					return nil
				}
			}}
		}
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()

		_, err := NewBatchProcessor(WithConcurrency(2), WithBatchLogger(quietLogger())).Run(ctx, chains)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if started.Load() >= int32(len(chains)) {
			t.Error("expected some chains not to start")
		}
	})
}

// TestBatchProcessorRunWithCallback tests callback-based processing.
func TestBatchProcessorRunWithCallback(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := make(map[int]string)
	chains := []ChainRunner{&fakeChain{name: "a"}, &fakeChain{name: "b"}}

	err := NewBatchProcessor(WithBatchLogger(quietLogger())).RunWithCallback(context.Background(), chains, func(r ChainResult, i int) {
		mu.Lock()
		defer mu.Unlock()
		seen[i] = r.Chain
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen[0] != "a" || seen[1] != "b" {
		t.Errorf("unexpected callbacks %v", seen)
	}
}
