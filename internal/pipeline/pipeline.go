package pipeline

import (
	"context"
	"log/slog"

	"github.com/nao1215/fastcrawl/internal/model"
)

// Batch is the unit of work of a pipeline: the records of one crawled batch.
type Batch struct {
	// Records is the remaining records. Steps may drop entries.
	Records []*model.Record

	// Dropped counts records removed by earlier steps.
	Dropped int

	// PerformedSteps lists the steps that ran, in order.
	PerformedSteps []string

	// Err is the last step failure, if any.
	Err error
}

// Step is one stage of the pipeline.
type Step interface {
	// Do processes the batch. Returning an error stops the pipeline unless
	// it continues on error.
	Do(ctx context.Context, batch *Batch) error

	// Name returns the step name for logging.
	Name() string
}

// Pipeline runs its steps in order over every batch it receives.
type Pipeline struct {
	steps []Step

	logger *slog.Logger

	// continueOnError runs later steps after a step failed.
	continueOnError bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError keeps running later steps after a step fails, so that
// an unreachable database does not also lose the JSON lines output.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates a new Pipeline. Steps are added with AddStep.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step to the pipeline.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Save runs the pipeline over records.
func (p *Pipeline) Save(ctx context.Context, records []*model.Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := p.Execute(ctx, records)
	return err
}

// Execute runs every step over records and returns the final batch. With
// continue on error the returned error is nil and the failure is recorded
// in the batch.
func (p *Pipeline) Execute(ctx context.Context, records []*model.Record) (*Batch, error) {
	batch := &Batch{Records: records}
	for _, step := range p.steps {
		select {
		case <-ctx.Done():
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"reason", ctx.Err(),
			)
			return batch, ctx.Err()
		default:
		}

		if len(batch.Records) == 0 {
			p.logger.Debug("batch empty, skipping remaining steps", "step", step.Name())
			break
		}

		before := len(batch.Records)
		if err := step.Do(ctx, batch); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"records", before,
				"error", err,
			)
			batch.Err = err
			if !p.continueOnError {
				return batch, err
			}
		} else {
			p.logger.Debug("step completed",
				"step", step.Name(),
				"records", len(batch.Records),
			)
		}
		batch.Dropped += before - len(batch.Records)
		batch.PerformedSteps = append(batch.PerformedSteps, step.Name())
	}
	return batch, nil
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
