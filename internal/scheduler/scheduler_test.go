package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestParseSchedule tests the accepted schedule formats.
func TestParseSchedule(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		spec    string
		next    time.Time
		wantErr bool
	}{
		{spec: "every 10 minutes", next: base.Add(10 * time.Minute)},
		{spec: "Every  1 Hour", next: base.Add(time.Hour)},
		{spec: "every day", next: base.Add(24 * time.Hour)},
		{spec: "every 30 seconds", next: base.Add(30 * time.Second)},
		{spec: "@every 90s", next: base.Add(90 * time.Second)},
		{spec: "@hourly", next: base.Add(time.Hour)},
		{spec: "30 10 * * *", next: base.Add(30 * time.Minute)},
		{spec: "", wantErr: true},
		{spec: "every 0 minutes", wantErr: true},
		{spec: "every 5 weeks", wantErr: true},
		{spec: "61 * * * *", wantErr: true},
		{spec: "sometimes", wantErr: true},
	}
	for _, tt := range tests {
		sched, err := ParseSchedule(tt.spec)
		if tt.wantErr {
			if !errors.Is(err, ErrBadTaskConfiguration) {
				t.Errorf("%q: expected ErrBadTaskConfiguration, got %v", tt.spec, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.spec, err)
			continue
		}
		if got := sched.Next(base); !got.Equal(tt.next) {
			t.Errorf("%q: expected next run %v, got %v", tt.spec, tt.next, got)
		}
	}
}

// TestControllerTasks tests task registration, toggling and rescheduling.
func TestControllerTasks(t *testing.T) {
	t.Parallel()

	c := NewController(nil)
	job := func(context.Context) error { return nil }

	if err := c.AddTask(job, TaskSettings{Name: "a", Schedule: "every 1 hour"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.AddTask(job, TaskSettings{Name: "a", Schedule: "every 1 hour"}); !errors.Is(err, ErrBadTaskConfiguration) {
		t.Errorf("expected duplicate error, got %v", err)
	}
	if err := c.AddTask(nil, TaskSettings{Name: "b", Schedule: "every 1 hour"}); !errors.Is(err, ErrBadTaskConfiguration) {
		t.Errorf("expected nil job error, got %v", err)
	}
	if err := c.AddTask(job, TaskSettings{Name: "b", Schedule: "bogus"}); !errors.Is(err, ErrBadTaskConfiguration) {
		t.Errorf("expected schedule error, got %v", err)
	}
	if err := c.AddTask(job, TaskSettings{Name: "b", Schedule: "@daily", Disabled: true}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	tasks := c.ListTasks()
	if len(tasks) != 2 || tasks[0].Name != "a" || !tasks[0].Enabled || tasks[1].Enabled {
		t.Fatalf("unexpected tasks %+v", tasks)
	}

	if err := c.ToggleTask("b", true); err != nil {
		t.Errorf("toggle failed: %v", err)
	}
	if err := c.ToggleTask("missing", true); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
	if err := c.Reschedule("a", "every 5 minutes"); err != nil {
		t.Errorf("reschedule failed: %v", err)
	}
	if err := c.Reschedule("missing", "every 5 minutes"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
	if got := c.ListTasks()[0].Schedule; got != "every 5 minutes" {
		t.Errorf("expected new schedule, got %q", got)
	}
	if err := c.RemoveTask("b"); err != nil {
		t.Errorf("remove failed: %v", err)
	}
	if len(c.ListTasks()) != 1 {
		t.Error("expected one task after removal")
	}
}

// TestControllerRun tests that jobs run on their ticks without overlapping.
func TestControllerRun(t *testing.T) {
	t.Parallel()

	c := NewController(nil)
	var runs, active, overlap atomic.Int32
	job := func(ctx context.Context) error {
		if active.Add(1) > 1 {
			overlap.Store(1)
		}
		defer active.Add(-1)
		runs.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(1500 * time.Millisecond):
		}
		return errors.New("slow job")
	}
	if err := c.AddTask(job, TaskSettings{Name: "slow", Schedule: "@every 1s"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	c.Start()
	time.Sleep(3500 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if runs.Load() == 0 {
		t.Fatal("expected the job to run")
	}
	if overlap.Load() != 0 {
		t.Error("runs of one task must not overlap")
	}
	task := c.ListTasks()[0]
	if task.LastError != "slow job" || task.Runs == 0 {
		t.Errorf("unexpected task state %+v", task)
	}
}

// TestControllerDisabledTask tests that a disabled task skips its ticks.
func TestControllerDisabledTask(t *testing.T) {
	t.Parallel()

	c := NewController(nil)
	var runs atomic.Int32
	job := func(context.Context) error {
		runs.Add(1)
		return nil
	}
	if err := c.AddTask(job, TaskSettings{Name: "off", Schedule: "@every 1s", Disabled: true}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	c.Start()
	time.Sleep(1500 * time.Millisecond)
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if runs.Load() != 0 {
		t.Errorf("disabled task ran %d times", runs.Load())
	}
}
