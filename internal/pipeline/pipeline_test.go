package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/nao1215/fastcrawl/internal/model"
)

// mockStep is a test helper that implements the Step interface.
type mockStep struct {
	name      string
	doFunc    func(ctx context.Context, batch *Batch) error
	callCount int
}

// Do implements Step.Do.
func (m *mockStep) Do(ctx context.Context, batch *Batch) error {
	m.callCount++
	if m.doFunc != nil {
		return m.doFunc(ctx, batch)
	}
	return nil
}

// Name implements Step.Name.
func (m *mockStep) Name() string {
	return m.name
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func records(stage string, titles ...string) []*model.Record {
	out := make([]*model.Record, len(titles))
	for i, title := range titles {
		r := model.NewRecord()
		r.Stage = stage
		r.URL = "http://shop.test/" + title
		r.Set("title", title)
		out[i] = r
	}
	return out
}

// TestPipelineNew tests the Pipeline constructor.
func TestPipelineNew(t *testing.T) {
	t.Parallel()

	t.Run("creates pipeline with default settings", func(t *testing.T) {
		t.Parallel()

		p := New()
		if p.StepCount() != 0 {
			t.Errorf("expected 0 steps, got %d", p.StepCount())
		}
		if p.logger == nil {
			t.Error("expected default logger")
		}
	})

	t.Run("applies WithContinueOnError option", func(t *testing.T) {
		t.Parallel()

		if p := New(WithContinueOnError(true)); !p.continueOnError {
			t.Error("expected continueOnError to be true")
		}
	})
}

// TestPipelineAddStep tests adding steps to the pipeline.
func TestPipelineAddStep(t *testing.T) {
	t.Parallel()

	p := New()
	p.AddStep(&mockStep{name: "first"})
	p.AddSteps(&mockStep{name: "second"}, &mockStep{name: "third"})

	if p.StepCount() != 3 {
		t.Errorf("expected 3 steps, got %d", p.StepCount())
	}
	expected := []string{"first", "second", "third"}
	for i, name := range p.StepNames() {
		if name != expected[i] {
			t.Errorf("step %d: got %q, expected %q", i, name, expected[i])
		}
	}
}

// TestPipelineExecute tests pipeline execution.
func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("executes all steps in order", func(t *testing.T) {
		t.Parallel()

		executionOrder := make([]string, 0)
		p := New(WithLogger(quietLogger()))
		for _, name := range []string{"step-1", "step-2"} {
			p.AddStep(&mockStep{
				name: name,
				doFunc: func(_ context.Context, _ *Batch) error {
					executionOrder = append(executionOrder, name)
					return nil
				},
			})
		}

		batch, err := p.Execute(context.Background(), records("s", "a"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(executionOrder) != 2 || executionOrder[0] != "step-1" || executionOrder[1] != "step-2" {
			t.Errorf("wrong execution order: %v", executionOrder)
		}
		if len(batch.PerformedSteps) != 2 {
			t.Errorf("expected 2 performed steps, got %v", batch.PerformedSteps)
		}
	})

	t.Run("stops on first error by default", func(t *testing.T) {
		t.Parallel()

		expectedErr := errors.New("step failed")
		second := &mockStep{name: "should-not-run"}
		p := New(WithLogger(quietLogger()))
		p.AddStep(&mockStep{
			name:   "failing-step",
			doFunc: func(context.Context, *Batch) error { return expectedErr },
		})
		p.AddStep(second)

		if err := p.Save(context.Background(), records("s", "a")); !errors.Is(err, expectedErr) {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if second.callCount != 0 {
			t.Error("second step should not have been called")
		}
	})

	t.Run("continues on error when configured", func(t *testing.T) {
		t.Parallel()

		second := &mockStep{name: "should-run"}
		p := New(WithContinueOnError(true), WithLogger(quietLogger()))
		p.AddStep(&mockStep{
			name:   "failing-step",
			doFunc: func(context.Context, *Batch) error { return errors.New("step failed") },
		})
		p.AddStep(second)

		batch, err := p.Execute(context.Background(), records("s", "a"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if second.callCount != 1 {
			t.Error("second step should have been called")
		}
		if batch.Err == nil {
			t.Error("expected the failure to be recorded in the batch")
		}
	})

	t.Run("stops when every record was dropped", func(t *testing.T) {
		t.Parallel()

		second := &mockStep{name: "after-drop"}
		p := New(WithLogger(quietLogger()))
		p.AddStep(&mockStep{
			name: "drop-all",
			doFunc: func(_ context.Context, b *Batch) error {
				b.Records = nil
				return nil
			},
		})
		p.AddStep(second)

		batch, err := p.Execute(context.Background(), records("s", "a", "b"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if second.callCount != 0 {
			t.Error("steps after an empty batch should not run")
		}
		if batch.Dropped != 2 {
			t.Errorf("expected 2 dropped records, got %d", batch.Dropped)
		}
	})

	t.Run("empty save is a no-op", func(t *testing.T) {
		t.Parallel()

		step := &mockStep{name: "never"}
		p := New()
		p.AddStep(step)
		if err := p.Save(context.Background(), nil); err != nil || step.callCount != 0 {
			t.Errorf("expected no step call, got %d (%v)", step.callCount, err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		step := &mockStep{name: "never"}
		p := New(WithLogger(quietLogger()))
		p.AddStep(step)
		if _, err := p.Execute(ctx, records("s", "a")); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if step.callCount != 0 {
			t.Error("step should not run after cancellation")
		}
	})
}
