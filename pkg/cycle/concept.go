package cycle

import (
	"fmt"

	"github.com/orneryd/attend/pkg/bag"
	"github.com/orneryd/attend/pkg/budget"
	"github.com/orneryd/attend/pkg/term"
	"github.com/orneryd/attend/pkg/termlink"
)

// TaskLink is a concept's reference to a task that was processed in it.
// The link carries its own budget so that a concept can age its view of a
// task without touching the task.
type TaskLink struct {
	task   *Task
	budget *budget.Budget
}

// Key returns the linked task's term name.
func (l *TaskLink) Key() string { return l.task.Key() }

// Budget returns the link budget.
func (l *TaskLink) Budget() *budget.Budget { return l.budget }

// Task returns the linked task.
func (l *TaskLink) Task() *Task { return l.task }

// Concept is the memory cell for one term. It owns two bounded bags: the
// tasks recently processed in it and the structural links to its
// components.
type Concept struct {
	term      term.Term
	budget    *budget.Budget
	templates []*termlink.Template

	taskLinks *bag.Bag[string, *TaskLink]
	termLinks *bag.Bag[string, *bag.Entry[string]]

	created   int64
	lastFired int64
	fired     int
	restored  bool
}

func newConcept(t term.Term, b *budget.Budget, tick int64, taskCap, termCap int) *Concept {
	c := &Concept{
		term:      t,
		budget:    b,
		taskLinks: bag.New[string, *TaskLink](taskCap),
		termLinks: bag.New[string, *bag.Entry[string]](termCap),
		created:   tick,
		lastFired: -1,
	}
	if compound, ok := t.(*term.Compound); ok {
		c.templates = termlink.Prepare(compound)
	}
	return c
}

// Key returns the term name.
func (c *Concept) Key() string { return c.term.Name() }

// Budget returns the concept budget.
func (c *Concept) Budget() *budget.Budget { return c.budget }

// Term returns the concept's term.
func (c *Concept) Term() term.Term { return c.term }

// Templates returns the term link templates of a compound term.
func (c *Concept) Templates() []*termlink.Template { return c.templates }

// TaskLinks returns the concept's task link bag. Owned by the scheduler.
func (c *Concept) TaskLinks() *bag.Bag[string, *TaskLink] { return c.taskLinks }

// TermLinks returns the concept's term link bag. Owned by the scheduler.
func (c *Concept) TermLinks() *bag.Bag[string, *bag.Entry[string]] { return c.termLinks }

// Fired returns how many times the concept has fired.
func (c *Concept) Fired() int { return c.fired }

// LastFired returns the tick of the last firing, or -1.
func (c *Concept) LastFired() int64 { return c.lastFired }

// Restored reports whether the concept was rebuilt from the archive.
func (c *Concept) Restored() bool { return c.restored }

func (c *Concept) String() string {
	return fmt.Sprintf("%s %s", c.budget, c.term.Name())
}

// linkTask records t in the concept's task links with budget b, merging into
// an existing link for the same term.
func (c *Concept) linkTask(t *Task, b *budget.Budget, policy budget.MergePolicy) {
	c.taskLinks.Put(linkTask{task: t, budget: b, policy: policy})
}

// linkTerms spreads b over the concept's templates and flushes each
// template's pending budget into a term link.
func (c *Concept) linkTerms(b *budget.Budget, policy budget.MergePolicy) {
	if len(c.templates) == 0 {
		return
	}
	share := b.Clone(false)
	share.MulPriority(1 / float64(len(c.templates)))
	for _, tpl := range c.templates {
		tpl.Accumulate(share)
		pending := tpl.Flush()
		if pending.IsDeleted() {
			continue
		}
		key := tpl.Key(true, tpl.Target())
		c.termLinks.Put(bag.PutEntry[string]{Entry: bag.NewEntry(key, pending), Policy: policy})
	}
}

type linkTask struct {
	bag.DeleteOnOverflow[string, *TaskLink]

	task   *Task
	budget *budget.Budget
	policy budget.MergePolicy
}

func (l linkTask) Key() string { return l.task.Key() }

func (l linkTask) NewItem() *TaskLink {
	return &TaskLink{task: l.task, budget: l.budget.Clone(false)}
}

func (l linkTask) UpdateItem(existing *TaskLink) *budget.Budget {
	before := existing.budget.Priority()
	existing.task = l.task
	existing.budget.Merge(l.policy, l.budget)
	if existing.budget.Priority() == before {
		return nil
	}
	return existing.budget
}
