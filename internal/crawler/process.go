package crawler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nao1215/fastcrawl/internal/scheduler"
)

// TaskController is the part of the scheduler a Process needs.
type TaskController interface {
	AddTask(job scheduler.Job, settings scheduler.TaskSettings) error
	ToggleTask(name string, enabled bool) error
}

// Process binds a chain to a scheduled task. While the chain is started by
// hand the task is disabled so that the two never overlap.
type Process struct {
	chain      *Chain
	controller TaskController
	name       string
}

// NewProcess returns a process for chain. Its task is named
// "<uuid>@<first stage>".
func NewProcess(chain *Chain, controller TaskController) (*Process, error) {
	first := chain.First()
	if first == nil {
		return nil, ErrEmptyChain
	}
	return &Process{
		chain:      chain,
		controller: controller,
		name:       uuid.NewString() + "@" + first.Name(),
	}, nil
}

// Name returns the task name.
func (p *Process) Name() string {
	return p.name
}

// Chain returns the chain run by the process.
func (p *Process) Chain() *Chain {
	return p.chain
}

// Schedule registers the chain as a task running on schedule.
func (p *Process) Schedule(schedule string) error {
	return p.controller.AddTask(p.chain.Run, scheduler.TaskSettings{
		Name:     p.name,
		Schedule: schedule,
	})
}

// Start runs the chain now. The scheduled task, if any, is disabled for the
// duration of the run.
func (p *Process) Start(ctx context.Context, policy ErrorPolicy) error {
	registered := true
	if err := p.controller.ToggleTask(p.name, false); err != nil {
		if !errors.Is(err, scheduler.ErrTaskNotFound) {
			return fmt.Errorf("disable task: %w", err)
		}
		registered = false
	}

	err := p.chain.Start(ctx, policy)

	if registered {
		if terr := p.controller.ToggleTask(p.name, true); terr != nil {
			err = errors.Join(err, fmt.Errorf("enable task: %w", terr))
		}
	}
	return err
}

// Stop stops the chain and disables its task.
func (p *Process) Stop() error {
	p.chain.Stop()
	if err := p.controller.ToggleTask(p.name, false); err != nil && !errors.Is(err, scheduler.ErrTaskNotFound) {
		return err
	}
	return nil
}
