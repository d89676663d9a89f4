package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrTaskNotFound is returned for unknown task names.
	ErrTaskNotFound = errors.New("task not found")

	// ErrBadTaskConfiguration is returned for invalid task settings or schedules.
	ErrBadTaskConfiguration = errors.New("bad task configuration")
)

// Job is the work of a task.
type Job func(ctx context.Context) error

// TaskSettings configures a task.
type TaskSettings struct {
	// Name identifies the task.
	Name string
	// Schedule is parsed by ParseSchedule.
	Schedule string
	// Disabled registers the task without running it until toggled on.
	Disabled bool
}

// Task is a snapshot of a registered task.
type Task struct {
	Name      string
	Schedule  string
	Enabled   bool
	Running   bool
	Runs      int
	LastRun   time.Time
	NextRun   time.Time
	LastError string
}

type task struct {
	settings TaskSettings
	job      Job
	id       cron.EntryID
	enabled  atomic.Bool
	running  atomic.Bool

	mu      sync.Mutex
	runs    int
	lastRun time.Time
	lastErr error
}

// Controller runs jobs on schedules. A task never overlaps with itself: a
// tick that arrives while the previous run is still going is skipped.
type Controller struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*task
}

// NewController returns a stopped controller.
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
	}
}

// AddTask registers job under settings.Name.
func (c *Controller) AddTask(job Job, settings TaskSettings) error {
	if job == nil || settings.Name == "" {
		return fmt.Errorf("%w: a task needs a name and a job", ErrBadTaskConfiguration)
	}
	sched, err := ParseSchedule(settings.Schedule)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.tasks[settings.Name]; dup {
		return fmt.Errorf("%w: duplicate task %q", ErrBadTaskConfiguration, settings.Name)
	}

	t := &task{settings: settings, job: job}
	t.enabled.Store(!settings.Disabled)
	t.id = c.cron.Schedule(sched, cron.FuncJob(func() { c.run(t) }))
	c.tasks[settings.Name] = t
	return nil
}

// RemoveTask unregisters a task. A running job is not interrupted.
func (c *Controller) RemoveTask(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, name)
	}
	c.cron.Remove(t.id)
	delete(c.tasks, name)
	return nil
}

// ToggleTask enables or disables a task. A disabled task skips its ticks.
func (c *Controller) ToggleTask(name string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, name)
	}
	t.enabled.Store(enabled)
	return nil
}

// Reschedule replaces the schedule of a task.
func (c *Controller) Reschedule(name, schedule string) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, name)
	}
	c.cron.Remove(t.id)
	t.settings.Schedule = schedule
	t.id = c.cron.Schedule(sched, cron.FuncJob(func() { c.run(t) }))
	return nil
}

// ListTasks returns the registered tasks sorted by name.
func (c *Controller) ListTasks() []Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		t.mu.Lock()
		info := Task{
			Name:     t.settings.Name,
			Schedule: t.settings.Schedule,
			Enabled:  t.enabled.Load(),
			Running:  t.running.Load(),
			Runs:     t.runs,
			LastRun:  t.lastRun,
			NextRun:  c.cron.Entry(t.id).Next,
		}
		if t.lastErr != nil {
			info.LastError = t.lastErr.Error()
		}
		t.mu.Unlock()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins dispatching ticks in the background.
func (c *Controller) Start() {
	c.cron.Start()
}

// Stop stops new ticks, cancels the context of running jobs and waits for
// them to return or for ctx to expire. A stopped controller cannot be
// started again.
func (c *Controller) Stop(ctx context.Context) error {
	done := c.cron.Stop()
	c.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) run(t *task) {
	name := t.settings.Name
	if !t.enabled.Load() {
		c.logger.Debug("task disabled, skipping tick", slog.String("task", name))
		return
	}
	if !t.running.CompareAndSwap(false, true) {
		c.logger.Warn("task still running, skipping tick", slog.String("task", name))
		return
	}
	defer t.running.Store(false)

	start := time.Now()
	c.logger.Info("task started", slog.String("task", name))
	err := t.job(c.ctx)

	t.mu.Lock()
	t.runs++
	t.lastRun = start
	t.lastErr = err
	t.mu.Unlock()

	if err != nil {
		c.logger.Error("task failed",
			slog.String("task", name),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return
	}
	c.logger.Info("task finished",
		slog.String("task", name),
		slog.Duration("elapsed", time.Since(start)))
}

// cronLogger routes cron's logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
