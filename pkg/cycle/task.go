package cycle

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/orneryd/attend/pkg/bag"
	"github.com/orneryd/attend/pkg/budget"
	"github.com/orneryd/attend/pkg/term"
)

// Task is a unit of work waiting to be fired: a term plus the budget that
// decides when (and whether) it gets processed.
//
// Tasks are keyed by term name in the pending bag, so a second task for the
// same term merges into the first instead of taking another slot.
type Task struct {
	// ID identifies this task instance in logs and reports.
	ID uuid.UUID
	// Source names the producer ("input", "derived", ...).
	Source string
	// Created is the tick the task was made at.
	Created int64

	term   term.Term
	budget *budget.Budget
}

// NewTask creates a task. A nil budget becomes a zero budget.
func NewTask(t term.Term, b *budget.Budget, source string, tick int64) *Task {
	if b == nil {
		b = &budget.Budget{}
	}
	return &Task{
		ID:      uuid.New(),
		Source:  source,
		Created: tick,
		term:    t,
		budget:  b,
	}
}

// Key returns the term name.
func (t *Task) Key() string { return t.term.Name() }

// Term returns the task's term.
func (t *Task) Term() term.Term { return t.term }

// Budget returns the task's budget.
func (t *Task) Budget() *budget.Budget { return t.budget }

func (t *Task) String() string {
	return fmt.Sprintf("%s %s", t.budget, t.term.Name())
}

// putTask inserts a task into the pending bag or merges its budget into the
// resident task for the same term. Displaced tasks are reported by the
// caller, so Overflow leaves the budget alone.
type putTask struct {
	task   *Task
	policy budget.MergePolicy
}

func (p putTask) Key() string { return p.task.Key() }

func (p putTask) NewItem() *Task { return p.task }

func (p putTask) UpdateItem(existing *Task) *budget.Budget {
	if existing == p.task {
		return nil
	}
	before := existing.budget.Priority()
	existing.budget.Merge(p.policy, p.task.budget)
	if existing.budget.Priority() == before {
		return nil
	}
	return existing.budget
}

func (putTask) Overflow(*Task) {}

var _ bag.Transaction[string, *Task] = putTask{}
