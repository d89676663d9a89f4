package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/fastcrawl/internal/engine"
	"github.com/nao1215/fastcrawl/internal/frontier"
	"github.com/nao1215/fastcrawl/internal/model"
	"github.com/nao1215/fastcrawl/internal/schema"
)

// State is the lifecycle state of a Spider.
type State int32

const (
	// StateIdle is a spider that never ran.
	StateIdle State = iota
	// StateRunning is a spider dispatching batches.
	StateRunning
	// StateDraining is a spider running its shutdown.
	StateDraining
	// StateStopped is a spider whose last run finished.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrorPolicy decides what Start does with a run-level failure.
type ErrorPolicy int

const (
	// PolicySilent logs the failure and returns nil.
	PolicySilent ErrorPolicy = iota
	// PolicyRaise returns the failure to the caller.
	PolicyRaise
)

// Saver receives the records of each processed batch.
type Saver interface {
	Save(ctx context.Context, records []*model.Record) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, records []*model.Record) error

// Save calls f.
func (f SaverFunc) Save(ctx context.Context, records []*model.Record) error {
	return f(ctx, records)
}

// Hook runs at the start or the end of a run.
type Hook func(ctx context.Context) error

// Spider crawls one stage: it pulls addresses from its frontier in batches,
// fetches them through a transport, extracts records with its schema and
// routes discovered addresses to itself or to the next stage of its chain.
//
// Each dispatched batch counts as one level of depth. A run stops when the
// spider is stopped, the depth or request budget is spent, or the frontier
// runs dry.
type Spider struct {
	name      string
	schema    *schema.Schema
	transport engine.Transport
	frontier  *frontier.Frontier
	extractor *schema.Extractor
	filter    addressFilter

	batchSize    int
	maxDepth     int
	maxRequests  int
	requestSleep time.Duration
	cycleSleep   time.Duration

	saver     Saver
	startUp   Hook
	shutDown  Hook
	statsHook func(model.StageStats)
	logger    *slog.Logger

	chain *Chain
	index int

	// run serializes runs; state guards against overlapping Start calls.
	run     sync.Mutex
	state   atomic.Int32
	stopped atomic.Bool
	last    atomic.Pointer[model.StageStats]
}

// SpiderOption configures a Spider.
type SpiderOption func(*Spider)

// WithBatchSize sets how many addresses are dispatched together.
// Zero means twice the connection limit of the transport.
func WithBatchSize(n int) SpiderOption {
	return func(s *Spider) {
		s.batchSize = n
	}
}

// WithMaxDepth caps the number of dispatched batches per run. Zero is unlimited.
func WithMaxDepth(depth int) SpiderOption {
	return func(s *Spider) {
		s.maxDepth = depth
	}
}

// WithMaxRequests caps the number of requests per run. Zero is unlimited.
func WithMaxRequests(n int) SpiderOption {
	return func(s *Spider) {
		s.maxRequests = n
	}
}

// WithRequestSleep delays every request.
func WithRequestSleep(d time.Duration) SpiderOption {
	return func(s *Spider) {
		s.requestSleep = d
	}
}

// WithCycleSleep pauses between frontier snapshots.
func WithCycleSleep(d time.Duration) SpiderOption {
	return func(s *Spider) {
		s.cycleSleep = d
	}
}

// WithSaver sets the record sink.
func WithSaver(saver Saver) SpiderOption {
	return func(s *Spider) {
		s.saver = saver
	}
}

// WithStartUp sets a hook that runs before seeding.
func WithStartUp(h Hook) SpiderOption {
	return func(s *Spider) {
		s.startUp = h
	}
}

// WithShutDown sets a hook that runs after every run, including failed ones.
func WithShutDown(h Hook) SpiderOption {
	return func(s *Spider) {
		s.shutDown = h
	}
}

// WithSeeds sets where the initial addresses come from.
func WithSeeds(src *frontier.SeedSource) SpiderOption {
	return func(s *Spider) {
		s.frontier = frontier.New(src)
	}
}

// WithStatsHook receives the statistics of every finished run.
func WithStatsHook(fn func(model.StageStats)) SpiderOption {
	return func(s *Spider) {
		s.statsHook = fn
	}
}

// WithIgnorePatterns drops discovered addresses whose path matches one of
// the glob patterns (e.g. "/admin/*", "*.pdf").
func WithIgnorePatterns(patterns []string) SpiderOption {
	return func(s *Spider) {
		s.filter.ignore = patterns
	}
}

// WithFollowPatterns keeps only discovered addresses whose path matches one
// of the glob patterns. Empty means all addresses that are not ignored.
func WithFollowPatterns(patterns []string) SpiderOption {
	return func(s *Spider) {
		s.filter.follow = patterns
	}
}

// WithExtractor replaces the default HTML extractor.
func WithExtractor(e *schema.Extractor) SpiderOption {
	return func(s *Spider) {
		s.extractor = e
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SpiderOption {
	return func(s *Spider) {
		s.logger = l
	}
}

// NewSpider creates a stage named name that extracts sch from documents
// fetched through transport.
func NewSpider(name string, sch *schema.Schema, transport engine.Transport, opts ...SpiderOption) (*Spider, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidSpiderConfig)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: stage %q has no transport", ErrInvalidSpiderConfig, name)
	}

	s := &Spider{
		name:      name,
		schema:    sch,
		transport: transport,
		frontier:  frontier.New(nil),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extractor == nil {
		s.extractor = schema.NewExtractor(schema.WithLogger(s.logger))
	}

	switch {
	case s.batchSize < 0, s.maxDepth < 0, s.maxRequests < 0:
		return nil, fmt.Errorf("%w: stage %q has a negative limit", ErrInvalidSpiderConfig, name)
	case s.requestSleep < 0, s.cycleSleep < 0:
		return nil, fmt.Errorf("%w: stage %q has a negative sleep", ErrInvalidSpiderConfig, name)
	}
	if s.batchSize == 0 {
		limit := transport.ConnectionLimit()
		if limit <= 0 {
			return nil, fmt.Errorf("%w: stage %q has no batch size and no connection limit", ErrInvalidSpiderConfig, name)
		}
		s.batchSize = 2 * limit
	}
	s.logger = s.logger.With(slog.String("stage", name))
	return s, nil
}

// Name returns the stage name.
func (s *Spider) Name() string {
	return s.name
}

// State returns the lifecycle state.
func (s *Spider) State() State {
	return State(s.state.Load())
}

// BatchSize returns the effective batch size.
func (s *Spider) BatchSize() int {
	return s.batchSize
}

// Frontier returns the address tracker of the stage.
func (s *Spider) Frontier() *frontier.Frontier {
	return s.frontier
}

// LastStats returns the statistics of the last finished run.
func (s *Spider) LastStats() (model.StageStats, bool) {
	st := s.last.Load()
	if st == nil {
		return model.StageStats{}, false
	}
	return *st, true
}

// Stop asks a running spider to finish after the batch in flight.
// The successor stage is not started.
func (s *Spider) Stop() {
	s.stopped.Store(true)
}

// Start runs the stage to completion and then starts the next stage of its
// chain. The shutdown hook and the frontier reset always run. A run-level
// failure is returned under PolicyRaise and only logged under PolicySilent;
// either way the next stage is not started.
func (s *Spider) Start(ctx context.Context, policy ErrorPolicy) error {
	if !s.run.TryLock() {
		return fmt.Errorf("%w: %s", ErrSpiderRunning, s.name)
	}
	s.state.Store(int32(StateRunning))
	s.stopped.Store(false)

	stats := model.StageStats{Stage: s.name, StartedAt: time.Now()}
	if s.chain != nil {
		stats.Chain = s.chain.Name()
	}
	s.logger.Info("stage started")

	err := s.crawl(ctx, &stats)

	s.state.Store(int32(StateDraining))
	if cerr := s.finish(context.WithoutCancel(ctx)); cerr != nil {
		err = errors.Join(err, cerr)
	}

	stats.FinishedAt = time.Now()
	stats.Stopped = s.stopped.Load()
	if err != nil {
		stats.Error = err.Error()
	}
	s.report(stats)
	s.state.Store(int32(StateStopped))
	s.run.Unlock()

	if err != nil {
		s.logger.Error("stage failed", slog.String("error", err.Error()))
		s.dropHandOff()
		if policy == PolicyRaise {
			return err
		}
		return nil
	}
	s.logger.Info("stage finished",
		slog.Int("batches", stats.Batches),
		slog.Int("requests", stats.Requests),
		slog.Int("records", stats.Records),
		slog.Duration("elapsed", stats.Duration()))

	if s.chain == nil {
		return nil
	}
	if stats.Stopped || s.chain.isStopped() {
		s.dropHandOff()
		return nil
	}
	next := s.chain.Next(s.index)
	if next == nil {
		return nil
	}
	return next.Start(ctx, policy)
}

// dropHandOff forgets the addresses handed to the next stage when that stage
// is not going to run, so they do not leak into a later run of the chain.
func (s *Spider) dropHandOff() {
	if s.chain == nil {
		return
	}
	next := s.chain.Next(s.index)
	if next == nil {
		return
	}
	if n := next.frontier.ClearSeeds(); n > 0 {
		s.logger.Debug("next stage not started, dropping handed off addresses",
			slog.String("next", next.name), slog.Int("addresses", n))
	}
}

// crawl is the batch loop of one run.
func (s *Spider) crawl(ctx context.Context, stats *model.StageStats) error {
	if s.startUp != nil {
		if err := s.startUp(ctx); err != nil {
			return fmt.Errorf("start up hook: %w", err)
		}
	}
	if s.schema == nil {
		return fmt.Errorf("%w: stage %q has no schema", schema.ErrInvalidSchemaType, s.name)
	}
	if err := s.schema.Validate(); err != nil {
		return err
	}
	n, err := s.frontier.Seed(ctx)
	if err != nil {
		return err
	}
	s.logger.Debug("frontier seeded", slog.Int("addresses", n))

	if err := s.transport.Open(ctx); err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	defer func() {
		if err := s.transport.Close(); err != nil {
			s.logger.Warn("failed to close transport", slog.String("error", err.Error()))
		}
	}()

	depth, requests := 0, 0
	for s.shouldContinue(depth, requests) {
		snapshot := s.frontier.Pending()
		for start := 0; start < len(snapshot); start += s.batchSize {
			if !s.shouldContinue(depth, requests) {
				break
			}
			batch := snapshot[start:min(start+s.batchSize, len(snapshot))]
			if s.maxRequests > 0 {
				batch = batch[:min(len(batch), s.maxRequests-requests)]
			}
			depth++
			requests += len(batch)
			if err := s.processBatch(ctx, batch, stats); err != nil {
				return err
			}
		}
		// Addresses of the snapshot left unfetched are dropped; those found
		// during this cycle stay pending.
		s.frontier.Discard(snapshot)

		if s.cycleSleep > 0 && s.shouldContinue(depth, requests) {
			if err := sleep(ctx, s.cycleSleep); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

// shouldContinue reports whether another batch may be dispatched.
func (s *Spider) shouldContinue(depth, requests int) bool {
	switch {
	case s.stopped.Load():
		return false
	case s.chain != nil && s.chain.isStopped():
		return false
	case s.maxDepth > 0 && depth >= s.maxDepth:
		return false
	case s.maxRequests > 0 && requests >= s.maxRequests:
		return false
	default:
		return !s.frontier.IsEmpty()
	}
}

// processBatch fetches batch, extracts each document, saves the records and
// routes the discovered addresses. Failures of single addresses are logged
// and counted; only transport, context and saver failures are returned.
func (s *Spider) processBatch(ctx context.Context, batch []string, stats *model.StageStats) error {
	reqs := make([]*model.Request, len(batch))
	for i, addr := range batch {
		reqs[i] = &model.Request{
			URL:           addr,
			Method:        s.schema.Method,
			SleepInterval: s.requestSleep,
		}
		if s.schema.Body != "" {
			reqs[i].Body = []byte(s.schema.Body)
		}
	}

	stats.Batches++
	stats.Requests += len(batch)
	cycles, err := s.transport.Dispatch(ctx, reqs)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	s.frontier.MarkFetched(batch)

	records := make([]*model.Record, 0, len(batch))
	var same, next []string
	for _, addr := range batch {
		c := cycles[addr]
		if !c.OK() {
			stats.FetchFailures++
			s.logger.Warn("fetch failed", slog.String("url", addr), slog.Any("error", cycleErr(c)))
			continue
		}

		res, err := s.extractor.Extract(ctx, schema.Document{URL: c.Response.URL, Body: c.Response.Text}, s.schema)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.ExtractFailures++
			s.logger.Warn("extraction failed", slog.String("url", addr), slog.String("error", err.Error()))
			continue
		}
		res.Record.Stage = s.name
		c.Record = res.Record
		records = append(records, res.Record)
		same = append(same, res.SameStage...)
		next = append(next, res.NextStage...)
	}

	stats.Records += len(records)
	if s.saver != nil {
		if err := s.saver.Save(ctx, records); err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}

	if same = s.filter.apply(same); len(same) > 0 {
		stats.Discovered += s.frontier.AddPending(same)
	}
	if next = s.filter.apply(next); len(next) > 0 {
		var successor *Spider
		if s.chain != nil {
			successor = s.chain.Next(s.index)
		}
		if successor == nil {
			s.logger.Debug("no next stage, dropping addresses", slog.Int("addresses", len(next)))
		} else {
			stats.HandedOff += successor.frontier.AddSeeds(next)
		}
	}

	s.logger.Debug("batch processed",
		slog.Int("requests", len(batch)),
		slog.Int("records", len(records)))
	return nil
}

// finish runs the shutdown hook and resets the frontier.
func (s *Spider) finish(ctx context.Context) error {
	s.frontier.Reset()
	if s.shutDown == nil {
		return nil
	}
	if err := s.shutDown(ctx); err != nil {
		return fmt.Errorf("shut down hook: %w", err)
	}
	return nil
}

func (s *Spider) report(stats model.StageStats) {
	s.last.Store(&stats)
	if s.chain != nil {
		s.chain.record(stats)
	}
	if s.statsHook != nil {
		s.statsHook(stats)
	}
}

func cycleErr(c *model.RequestCycle) error {
	if c == nil {
		return errors.New("no response")
	}
	if c.Err != nil {
		return c.Err
	}
	return errors.New("empty response")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
