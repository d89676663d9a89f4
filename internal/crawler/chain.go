package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nao1215/fastcrawl/internal/model"
)

// Chain is an ordered list of stages. Addresses a stage hands off become
// seeds of the stage right after it, and each stage starts the next one
// when its run finishes cleanly.
type Chain struct {
	name    string
	mu      sync.Mutex
	stages  []*Spider
	stats   []model.StageStats
	sealed  atomic.Bool
	stopped atomic.Bool
	running atomic.Bool
}

// NewChain returns a chain of stages. An empty name is derived from the
// stage names.
func NewChain(name string, stages ...*Spider) (*Chain, error) {
	c := &Chain{name: name}
	for _, s := range stages {
		if err := c.Append(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Append adds a stage at the end. It fails once the chain has been started.
func (c *Chain) Append(s *Spider) error {
	if c.sealed.Load() {
		return ErrChainSealed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.chain != nil {
		return fmt.Errorf("%w: %s", ErrSpiderInChain, s.name)
	}
	s.chain = c
	s.index = len(c.stages)
	c.stages = append(c.stages, s)
	return nil
}

// Name returns the chain name.
func (c *Chain) Name() string {
	if c.name != "" {
		return c.name
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.name
	}
	return strings.Join(names, "->")
}

// Stages returns the stages in order.
func (c *Chain) Stages() []*Spider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Spider(nil), c.stages...)
}

// First returns the first stage, or nil for an empty chain.
func (c *Chain) First() *Spider {
	return c.Next(-1)
}

// Next returns the stage after index i, or nil when i is the last one.
func (c *Chain) Next(i int) *Spider {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i+1 < 0 || i+1 >= len(c.stages) {
		return nil
	}
	return c.stages[i+1]
}

// Start seals the chain and runs it from the first stage. It returns when
// the last stage that ran has finished. A chain runs once at a time: Start
// on a running chain returns ErrChainRunning.
func (c *Chain) Start(ctx context.Context, policy ErrorPolicy) error {
	first := c.First()
	if first == nil {
		return ErrEmptyChain
	}
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrChainRunning, c.Name())
	}
	defer c.running.Store(false)

	c.sealed.Store(true)
	c.stopped.Store(false)
	c.mu.Lock()
	c.stats = nil
	c.mu.Unlock()
	return first.Start(ctx, policy)
}

// Run is Start with PolicyRaise, in the shape of a scheduled job.
func (c *Chain) Run(ctx context.Context) error {
	return c.Start(ctx, PolicyRaise)
}

// Stop stops every stage. Stages that did not start yet will not start.
func (c *Chain) Stop() {
	c.stopped.Store(true)
	for _, s := range c.Stages() {
		s.Stop()
	}
}

// Stats returns the statistics of the stages that finished in the last run.
func (c *Chain) Stats() []model.StageStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.StageStats(nil), c.stats...)
}

// Running reports whether a run of the chain is in progress.
func (c *Chain) Running() bool {
	return c.running.Load()
}

func (c *Chain) isStopped() bool {
	return c.stopped.Load()
}

func (c *Chain) record(st model.StageStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = append(c.stats, st)
}
