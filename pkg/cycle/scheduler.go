// Package cycle runs the attention loop: inputs come in through a
// thread-safe Inbox, compete for room in bounded bags, and the strongest get
// processed each tick.
//
// One tick runs six stages in order, without suspension:
//
//	Ingest  drain the inbox into the pending-task bag
//	Forget  decay a bounded round-robin slice of the concept bag
//	Select  take top pending tasks (bounded by busyness) and the top or
//	        rank-sampled concepts
//	Process hand each selection to the Deriver, one at a time
//	Commit  put derived tasks back into the pending-task bag
//	Trim    cut pending tasks down to ConceptsPerCycle×Duration
//
// Bags are owned by the goroutine calling Tick or Run. Other goroutines talk
// to the scheduler only through the Inbox and read state through Snapshot.
//
// Example:
//
//	s, err := cycle.New(cycle.DefaultConfig(), myDeriver)
//	if err != nil {
//		return err
//	}
//	go s.Run(ctx)
//	s.Inbox().Submit(cycle.NewTask(atom, budget.MustNew(0.8, 0.5, 0.9), "input", 0))
package cycle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/attend/pkg/archive"
	"github.com/orneryd/attend/pkg/bag"
	"github.com/orneryd/attend/pkg/budget"
	"github.com/orneryd/attend/pkg/pool"
	"github.com/orneryd/attend/pkg/term"
	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned by Run when another Run is active.
var ErrAlreadyRunning = errors.New("scheduler already running")

// ErrDeriverPanic wraps a panic recovered from the Deriver.
var ErrDeriverPanic = errors.New("deriver panic")

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithReporter sets the observer for dropped tasks and evicted concepts.
func WithReporter(r Reporter) Option {
	return func(s *Scheduler) { s.reporter = r }
}

// WithArchive persists evicted concepts and restores them on reactivation.
func WithArchive(a Archive) Option {
	return func(s *Scheduler) { s.archive = a }
}

// WithInbox replaces the default inbox.
func WithInbox(in *Inbox) Option {
	return func(s *Scheduler) { s.inbox = in }
}

// WithInterner shares a term interner with producers.
func WithInterner(in *term.Interner) Option {
	return func(s *Scheduler) { s.interner = in }
}

// Scheduler is the per-tick control loop over the concept and pending-task
// bags.
type Scheduler struct {
	cfg      Config
	log      zerolog.Logger
	deriver  Deriver
	reporter Reporter
	archive  Archive
	inbox    *Inbox
	interner *term.Interner

	concepts *bag.Bag[string, *Concept]
	pending  *bag.Bag[string, *Task]

	conceptForget *bag.Forgetting[string, *Concept]
	linkForget    *bag.Forgetting[string, *TaskLink]

	tasks    *pool.Slices[*Task]
	selected *pool.Slices[*Concept]

	// drives SelectionSample; owned by the ticking goroutine
	rng *rand.Rand

	// owned by the ticking goroutine
	ticks int64
	cur   TickReport
	stats Stats

	snapshot atomic.Pointer[Snapshot]

	running  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
}

// TickReport describes one tick.
type TickReport struct {
	Tick          int64         `json:"tick"`
	Ingested      int           `json:"ingested"`
	Dropped       int           `json:"dropped"`
	Forgotten     int           `json:"forgotten"`
	TasksFired    int           `json:"tasks_fired"`
	ConceptsFired int           `json:"concepts_fired"`
	Derived       int           `json:"derived"`
	Failures      int           `json:"failures"`
	Trimmed       int           `json:"trimmed"`
	Evicted       int           `json:"evicted"`
	Restored      int           `json:"restored"`
	Linked        int           `json:"linked"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

// Stats accumulates tick reports.
type Stats struct {
	Ticks         int64  `json:"ticks"`
	Ingested      uint64 `json:"ingested"`
	Dropped       uint64 `json:"dropped"`
	TasksFired    uint64 `json:"tasks_fired"`
	ConceptsFired uint64 `json:"concepts_fired"`
	Derived       uint64 `json:"derived"`
	Failures      uint64 `json:"failures"`
	Trimmed       uint64 `json:"trimmed"`
	Evicted       uint64 `json:"evicted"`
	Restored      uint64 `json:"restored"`
	Linked        uint64 `json:"linked"`
	ArchiveErrors uint64 `json:"archive_errors"`
}

func (s *Stats) add(r TickReport) {
	s.Ticks++
	s.Ingested += uint64(r.Ingested)
	s.Dropped += uint64(r.Dropped)
	s.TasksFired += uint64(r.TasksFired)
	s.ConceptsFired += uint64(r.ConceptsFired)
	s.Derived += uint64(r.Derived)
	s.Failures += uint64(r.Failures)
	s.Trimmed += uint64(r.Trimmed)
	s.Evicted += uint64(r.Evicted)
	s.Restored += uint64(r.Restored)
	s.Linked += uint64(r.Linked)
}

// New creates a scheduler. A nil deriver derives nothing.
func New(cfg Config, deriver Deriver, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deriver == nil {
		deriver = NopDeriver{}
	}

	s := &Scheduler{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "cycle").Logger(),
		deriver:  deriver,
		reporter: NopReporter{},
		concepts: bag.New[string, *Concept](cfg.ConceptCapacity),
		pending:  bag.New[string, *Task](cfg.PendingCapacity),
		conceptForget: &bag.Forgetting[string, *Concept]{
			Period:      cfg.conceptPeriod(),
			MinPriority: cfg.MinForgettablePriority,
			Curve:       cfg.Curve,
			Policy:      cfg.Policy,
		},
		linkForget: &bag.Forgetting[string, *TaskLink]{
			Period:      cfg.taskPeriod(),
			MinPriority: cfg.MinForgettablePriority,
			Curve:       cfg.Curve,
		},
		tasks:    pool.NewSlices[*Task](64),
		selected: pool.NewSlices[*Concept](cfg.ConceptsPerCycle),
		rng:      newRand(cfg.Seed),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reporter == nil {
		s.reporter = NopReporter{}
	}
	if s.inbox == nil {
		s.inbox = NewInbox(InboxOptions{})
	}
	if s.interner == nil {
		s.interner = term.NewInterner()
	}
	s.publish()
	return s, nil
}

// Inbox returns the producer-facing queue.
func (s *Scheduler) Inbox() *Inbox { return s.inbox }

// Interner returns the scheduler's term table.
func (s *Scheduler) Interner() *term.Interner { return s.interner }

// Concepts returns the concept bag. Only the ticking goroutine may use it.
func (s *Scheduler) Concepts() *bag.Bag[string, *Concept] { return s.concepts }

// Pending returns the pending-task bag. Only the ticking goroutine may use it.
func (s *Scheduler) Pending() *bag.Bag[string, *Task] { return s.pending }

// Ticks returns the number of completed ticks. Only the ticking goroutine
// may call it; others read Snapshot().Tick.
func (s *Scheduler) Ticks() int64 { return s.ticks }

// PriorityTotal sums resident priority over concepts and pending tasks.
// Only the ticking goroutine may call it.
func (s *Scheduler) PriorityTotal() float64 {
	return s.concepts.PrioritySum() + s.pending.PrioritySum()
}

// Snapshot returns the state published at the end of the last tick. Safe
// from any goroutine.
func (s *Scheduler) Snapshot() *Snapshot { return s.snapshot.Load() }

// Run ticks until ctx is done, Stop is called, or MaxTicks ticks have run.
// Stop and cancellation take effect between ticks, never inside one.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	var tick <-chan time.Time
	if s.cfg.TickInterval > 0 {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.log.Info().
		Int("concepts", s.cfg.ConceptCapacity).
		Int("per_cycle", s.cfg.ConceptsPerCycle).
		Dur("interval", s.cfg.TickInterval).
		Msg("scheduler started")
	defer func() {
		s.log.Info().Int64("ticks", s.ticks).Msg("scheduler stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopped:
			return nil
		default:
		}

		s.Tick(ctx)
		if s.cfg.MaxTicks > 0 && s.ticks >= s.cfg.MaxTicks {
			return nil
		}

		if tick == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopped:
			return nil
		case <-tick:
		}
	}
}

// Stop ends Run at the next tick boundary and closes the inbox.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.inbox.Close()
		close(s.stopped)
	})
}

// Tick runs one full cycle and returns its report. It must not be called
// concurrently with itself or with Run.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	start := time.Now()
	now := s.ticks
	s.cur = TickReport{Tick: now}

	s.ingest(now)
	s.cur.Forgotten = s.concepts.ForgetNext(s.conceptForget, s.cfg.ForgetExtraDepth, now)

	tasks := s.selectTasks()
	concepts := s.selectConcepts(now)
	s.cur.TasksFired = len(tasks)

	derived := s.tasks.Get()
	factor := 1 / float64(s.cfg.ConceptsPerCycle)
	for _, t := range tasks {
		derived = s.processTask(ctx, t, now, factor, derived)
	}
	for _, c := range concepts {
		derived = s.processConcept(ctx, c, now, derived)
	}
	s.tasks.Put(tasks)
	s.selected.Put(concepts)

	for _, t := range derived {
		if s.accept(t) {
			s.cur.Derived++
		}
	}
	s.tasks.Put(derived)

	s.cur.Trimmed = s.pending.Limit(s.cfg.pendingLimit(), func(t *Task) {
		s.log.Debug().Str("task", t.Key()).Str("budget", t.Budget().String()).Msg("pending task trimmed")
		s.reporter.Removed(t, ReasonIgnored)
		t.Budget().Delete()
	})

	s.cur.Elapsed = time.Since(start)
	s.ticks++
	s.stats.add(s.cur)
	s.publish()

	s.log.Debug().
		Int64("tick", now).
		Int("ingested", s.cur.Ingested).
		Int("tasks", s.cur.TasksFired).
		Int("concepts", s.cur.ConceptsFired).
		Int("derived", s.cur.Derived).
		Int("trimmed", s.cur.Trimmed).
		Dur("elapsed", s.cur.Elapsed).
		Msg("tick")
	return s.cur
}

func (s *Scheduler) ingest(now int64) {
	s.inbox.SetTick(now)
	buf := s.inbox.Drain(s.tasks.Get())
	for _, t := range buf {
		if s.accept(t) {
			s.cur.Ingested++
		}
	}
	s.tasks.Put(buf)
}

// selectTasks pops pending tasks highest first until their summed priority
// exceeds ConceptsPerCycle. At least one task fires when any is pending.
func (s *Scheduler) selectTasks() []*Task {
	out := s.tasks.Get()
	limit := float64(s.cfg.ConceptsPerCycle)
	busy := 0.0
	for s.pending.Len() > 0 {
		t, _ := s.pending.TakeHighest()
		out = append(out, t)
		busy += t.Budget().Priority()
		if busy > limit {
			break
		}
	}
	return out
}

// selectConcepts decays the chosen concepts and keeps those the policy
// surfaces.
func (s *Scheduler) selectConcepts(now int64) []*Concept {
	out := s.selected.Get()
	var chosen []*Concept
	if s.cfg.Selection == SelectionSample {
		chosen = s.sampleConcepts(s.cfg.ConceptsPerCycle)
	} else {
		chosen = s.concepts.SelectHighest(s.cfg.ConceptsPerCycle)
	}
	for _, c := range chosen {
		s.conceptForget.Reset(c.Key(), now)
		s.concepts.Update(s.conceptForget)
		if sel, ok := s.conceptForget.Selected(); ok {
			out = append(out, sel)
		}
	}
	return out
}

// sampleConcepts draws up to n distinct concepts weighted by rank. Repeat
// draws are discarded, so a bag dominated by one concept may yield fewer.
func (s *Scheduler) sampleConcepts(n int) []*Concept {
	n = min(n, s.concepts.Len())
	if n == 0 {
		return nil
	}
	out := make([]*Concept, 0, n)
	seen := make(map[string]struct{}, n)
	for attempts := 4 * n; attempts > 0 && len(out) < n; attempts-- {
		c, ok := s.concepts.Sample(s.rng)
		if !ok {
			break
		}
		if _, dup := seen[c.Key()]; dup {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (s *Scheduler) processTask(ctx context.Context, t *Task, now int64, factor float64, out []*Task) []*Task {
	c := s.conceptualize(t, now)
	if c == nil {
		s.drop(t, ReasonInsufficient)
		return out
	}
	c.linkTask(t, t.Budget(), s.cfg.Merge)
	c.linkTerms(t.Budget(), s.cfg.Merge)

	derived, err := s.derive(ctx, Premise{
		Task:           t,
		Concept:        c,
		Link:           strongestLink(c),
		Tick:           now,
		PriorityFactor: factor,
	})
	if err != nil {
		s.cur.Failures++
		s.log.Warn().Err(err).Str("task", t.Key()).Str("id", t.ID.String()).Msg("task processing failed")
		c.taskLinks.Take(t.Key())
		s.drop(t, ReasonFailed)
		return out
	}
	s.linkComponents(c, t, now)
	return append(out, derived...)
}

// linkComponents links t into the concept of every component the host
// concept has a template for, each with an equal share of t's budget.
// Components whose share falls below the threshold are skipped.
func (s *Scheduler) linkComponents(host *Concept, t *Task, now int64) {
	if len(host.templates) == 0 {
		return
	}
	share := t.Budget().Clone(false)
	share.MulPriority(1 / float64(len(host.templates)))
	if !share.IsAboveThreshold(s.cfg.BudgetThreshold) {
		return
	}
	for _, tpl := range host.templates {
		if t.Budget().IsDeleted() {
			return
		}
		target := tpl.Target()
		if target.Name() == host.Key() {
			continue
		}
		if c := s.conceptualizeTerm(target, share, now); c != nil {
			c.linkTask(t, share, s.cfg.Merge)
			s.cur.Linked++
		}
	}
}

func (s *Scheduler) processConcept(ctx context.Context, c *Concept, now int64, out []*Task) []*Task {
	// evicted earlier in this tick
	if c.budget.IsDeleted() {
		return out
	}
	s.cur.ConceptsFired++
	c.fired++
	c.lastFired = now

	var link *TaskLink
	for l := range c.taskLinks.All() {
		link = l
		break
	}
	if link == nil {
		return out
	}
	s.linkForget.Reset(link.Key(), now)
	c.taskLinks.Update(s.linkForget)

	derived, err := s.derive(ctx, Premise{
		Task:           link.Task(),
		Concept:        c,
		Link:           strongestLink(c),
		Tick:           now,
		PriorityFactor: 1,
	})
	if err != nil {
		s.cur.Failures++
		s.log.Warn().Err(err).Str("concept", c.Key()).Str("task", link.Key()).Msg("concept processing failed")
		c.taskLinks.Take(link.Key())
		s.reporter.Removed(link.Task(), ReasonFailed)
		return out
	}
	return append(out, derived...)
}

// derive calls the deriver, turning a panic into an error.
func (s *Scheduler) derive(ctx context.Context, p Premise) (out []*Task, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrDeriverPanic, r)
		}
	}()
	return s.deriver.Derive(ctx, p)
}

// accept puts t into the pending bag. Returns false if t was refused or
// displaced.
func (s *Scheduler) accept(t *Task) bool {
	if t == nil || t.term == nil {
		return false
	}
	if !t.Budget().IsAboveThreshold(s.cfg.BudgetThreshold) {
		s.drop(t, ReasonInsufficient)
		return false
	}
	displaced, ok := s.pending.Put(putTask{task: t, policy: s.cfg.Merge})
	if !ok {
		return true
	}
	s.drop(displaced, ReasonOverflow)
	return displaced != t
}

func (s *Scheduler) drop(t *Task, reason string) {
	s.cur.Dropped++
	s.log.Debug().Str("task", t.Key()).Str("reason", reason).Msg("task dropped")
	s.reporter.Removed(t, reason)
	t.Budget().Delete()
}

// conceptualize returns the resident concept for t's term.
func (s *Scheduler) conceptualize(t *Task, now int64) *Concept {
	return s.conceptualizeTerm(t.Term(), t.Budget(), now)
}

// conceptualizeTerm returns the resident concept for tm, activating it with b
// or creating it (restoring it from the archive) if needed. Returns nil when
// the concept bag is full of stronger concepts; a restored record then goes
// back to the archive unchanged.
func (s *Scheduler) conceptualizeTerm(tm term.Term, b *budget.Budget, now int64) *Concept {
	tx := &conceptTx{s: s, term: tm, budget: b, now: now}
	if out, ok := s.concepts.Put(tx); ok && tx.created != nil && out == tx.created {
		s.giveBack(tx.record)
		return nil
	}
	c, ok := s.concepts.Get(tm.Name())
	if !ok {
		return nil
	}
	return c
}

// giveBack returns a record taken by restore for a concept that never made
// it into the bag.
func (s *Scheduler) giveBack(rec *archive.Record) {
	if rec == nil {
		return
	}
	if err := s.archive.Save(*rec); err != nil {
		s.stats.ArchiveErrors++
		s.log.Warn().Err(err).Str("concept", rec.Term).Msg("archive give-back failed")
	}
	s.cur.Restored--
}

func (s *Scheduler) evict(c *Concept, now int64) {
	s.cur.Evicted++
	s.log.Debug().Str("concept", c.Key()).Str("budget", c.budget.String()).Msg("concept evicted")
	if s.archive != nil {
		if err := s.archive.Save(archive.NewRecord(c.Key(), c.budget, now, "evicted")); err != nil {
			s.stats.ArchiveErrors++
			s.log.Warn().Err(err).Str("concept", c.Key()).Msg("archive save failed")
		}
	}
	s.reporter.Evicted(c)
	c.budget.Delete()
}

// restore merges an archived budget into a fresh concept.
func (s *Scheduler) restore(c *Concept) *archive.Record {
	if s.archive == nil {
		return nil
	}
	rec, err := s.archive.Take(c.Key())
	if err != nil {
		if !errors.Is(err, archive.ErrNotFound) {
			s.stats.ArchiveErrors++
			s.log.Warn().Err(err).Str("concept", c.Key()).Msg("archive restore failed")
		}
		return nil
	}
	c.budget.Merge(s.cfg.Merge, rec.Budget())
	c.restored = true
	s.cur.Restored++
	return rec
}

// conceptTx activates an existing concept or builds a new one.
type conceptTx struct {
	s      *Scheduler
	term   term.Term
	budget *budget.Budget
	now    int64

	created *Concept
	record  *archive.Record
}

func (tx *conceptTx) Key() string { return tx.term.Name() }

func (tx *conceptTx) NewItem() *Concept {
	cfg := tx.s.cfg
	c := newConcept(tx.term, tx.budget.Clone(false), tx.now, cfg.TaskLinkCapacity, cfg.TermLinkCapacity)
	tx.record = tx.s.restore(c)
	tx.created = c
	return c
}

// UpdateItem activates the concept: priority is or-ed with the task's,
// durability moves to the mean.
func (tx *conceptTx) UpdateItem(existing *Concept) *budget.Budget {
	b := existing.budget
	before := b.Priority()
	b.OrPriority(tx.budget.Priority())
	b.SetDurability((b.Durability() + tx.budget.Durability()) / 2)
	if b.Priority() == before {
		return nil
	}
	return b
}

// Overflow archives the resident evicted to make room.
func (tx *conceptTx) Overflow(c *Concept) {
	tx.s.evict(c, tx.now)
}

func strongestLink(c *Concept) *bag.Entry[string] {
	for e := range c.termLinks.All() {
		return e
	}
	return nil
}
