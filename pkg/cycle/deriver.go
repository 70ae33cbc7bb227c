package cycle

import (
	"context"

	"github.com/orneryd/attend/pkg/archive"
	"github.com/orneryd/attend/pkg/bag"
)

// Reasons passed to Reporter.Removed.
const (
	// ReasonIgnored marks a pending task trimmed for lack of room.
	ReasonIgnored = "Ignored"
	// ReasonOverflow marks a task displaced from the full pending bag.
	ReasonOverflow = "Overflow"
	// ReasonFailed marks a task whose processing returned an error or panicked.
	ReasonFailed = "Failed"
	// ReasonInsufficient marks a task whose budget is below threshold.
	ReasonInsufficient = "Insufficient budget"
)

// Premise is what the scheduler hands to the inference side for one firing.
type Premise struct {
	// Task is the task being processed: a freshly fired task, or the top
	// task link of a fired concept.
	Task *Task
	// Concept is the concept the task was processed in.
	Concept *Concept
	// Link is the concept's strongest term link, or nil.
	Link *bag.Entry[string]
	// Tick is the current tick.
	Tick int64
	// PriorityFactor scales derived budgets for new-task firings. It is 1
	// for concept firings.
	PriorityFactor float64
}

// Deriver turns a premise into derived tasks. It is the boundary to the
// inference rules, which live outside this module.
//
// Implementations must not mutate budgets of items they did not create
// except through Budget methods. An error or panic drops only the premise
// being processed.
type Deriver interface {
	Derive(ctx context.Context, p Premise) ([]*Task, error)
}

// DeriverFunc adapts a function to Deriver.
type DeriverFunc func(ctx context.Context, p Premise) ([]*Task, error)

// Derive calls f.
func (f DeriverFunc) Derive(ctx context.Context, p Premise) ([]*Task, error) {
	return f(ctx, p)
}

// NopDeriver derives nothing.
type NopDeriver struct{}

// Derive returns no tasks.
func (NopDeriver) Derive(context.Context, Premise) ([]*Task, error) { return nil, nil }

// Reporter observes items leaving memory.
type Reporter interface {
	// Removed is called for a task dropped without being processed, or
	// whose processing failed.
	Removed(t *Task, reason string)
	// Evicted is called for a concept displaced from the full concept bag.
	Evicted(c *Concept)
}

// NopReporter ignores every report.
type NopReporter struct{}

// Removed does nothing.
func (NopReporter) Removed(*Task, string) {}

// Evicted does nothing.
func (NopReporter) Evicted(*Concept) {}

// Archive stores evicted concepts and gives them back on reactivation.
// *archive.Store satisfies it.
type Archive interface {
	Save(rec archive.Record) error
	Take(term string) (*archive.Record, error)
}

var _ Archive = (*archive.Store)(nil)
