package cycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orneryd/attend/pkg/archive"
	"github.com/orneryd/attend/pkg/bag"
	"github.com/orneryd/attend/pkg/budget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Reporter that keeps everything it is told.
type recorder struct {
	mu      sync.Mutex
	removed map[string][]string
	evicted []string
}

func newRecorder() *recorder {
	return &recorder{removed: make(map[string][]string)}
}

func (r *recorder) Removed(t *Task, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed[reason] = append(r.removed[reason], t.Key())
}

func (r *recorder) Evicted(c *Concept) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, c.Key())
}

// premises is a Deriver that records what it was given and answers with a
// per-key function.
type premises struct {
	seen   []Premise
	answer func(p Premise) ([]*Task, error)
}

func (d *premises) Derive(_ context.Context, p Premise) ([]*Task, error) {
	d.seen = append(d.seen, p)
	if d.answer == nil {
		return nil, nil
	}
	return d.answer(p)
}

func newTestScheduler(t *testing.T, mutate func(*Config), d Deriver, opts ...Option) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, d, opts...)
	require.NoError(t, err)
	return s
}

func submit(t *testing.T, s *Scheduler, name string, p float64) *Task {
	t.Helper()
	tk := task(s.Interner(), name, p)
	require.NoError(t, s.Inbox().Submit(tk))
	return tk
}

func TestTickFiresInputThenConcept(t *testing.T) {
	d := &premises{}
	s := newTestScheduler(t, nil, d)
	submit(t, s, "bird", 0.8)

	r := s.Tick(context.Background())
	assert.Equal(t, int64(0), r.Tick)
	assert.Equal(t, 1, r.Ingested)
	assert.Equal(t, 1, r.TasksFired)
	assert.Equal(t, 0, r.ConceptsFired)
	require.Len(t, d.seen, 1)
	assert.Equal(t, "bird", d.seen[0].Task.Key())
	assert.Equal(t, "bird", d.seen[0].Concept.Key())
	assert.Nil(t, d.seen[0].Link)
	assert.Equal(t, 1.0, d.seen[0].PriorityFactor)

	assert.True(t, s.Concepts().Contains("bird"))
	assert.Equal(t, 0, s.Pending().Len())
	assert.Equal(t, int64(1), s.Ticks())

	r = s.Tick(context.Background())
	assert.Equal(t, int64(1), r.Tick)
	assert.Equal(t, 0, r.TasksFired)
	assert.Equal(t, 1, r.ConceptsFired)
	assert.Equal(t, 1, r.Forgotten)
	require.Len(t, d.seen, 2)
	assert.Equal(t, "bird", d.seen[1].Task.Key())
	assert.Equal(t, int64(1), d.seen[1].Tick)

	c, _ := s.Concepts().Get("bird")
	assert.Equal(t, 1, c.Fired())
	assert.Equal(t, int64(1), c.LastFired())

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.Tick)
	require.Len(t, snap.TopConcepts, 1)
	assert.Equal(t, "bird", snap.TopConcepts[0].Key)
	assert.Equal(t, uint64(1), snap.Stats.TasksFired)
	assert.Equal(t, uint64(1), snap.Stats.ConceptsFired)
	assert.InDelta(t, s.PriorityTotal(), snap.PriorityTotal, 1e-12)
}

func TestDerivedTasksAreCommitted(t *testing.T) {
	d := &premises{}
	s := newTestScheduler(t, nil, d)
	d.answer = func(p Premise) ([]*Task, error) {
		if p.Tick != 0 {
			return nil, nil
		}
		return []*Task{task(s.Interner(), "flies", 0.5), nil}, nil
	}
	submit(t, s, "bird", 0.8)

	r := s.Tick(context.Background())
	assert.Equal(t, 1, r.Derived)
	assert.True(t, s.Pending().Contains("flies"))

	r = s.Tick(context.Background())
	assert.Equal(t, 1, r.TasksFired)
	assert.Equal(t, 1, r.ConceptsFired)
	assert.True(t, s.Concepts().Contains("flies"))
	assert.Equal(t, uint64(1), s.Snapshot().Stats.Derived)
}

func TestTermLinksReachTheDeriver(t *testing.T) {
	d := &premises{}
	s := newTestScheduler(t, nil, d)
	tk, err := ParseInput(s.Interner(), "bird --> animal", nil, 0)
	require.NoError(t, err)
	require.NoError(t, s.Inbox().Submit(tk))

	s.Tick(context.Background())
	require.Len(t, d.seen, 1)
	require.NotNil(t, d.seen[0].Link)
	c := d.seen[0].Concept
	assert.Equal(t, 2, c.TermLinks().Len())
	assert.True(t, c.TaskLinks().Contains("<bird --> animal>"))
}

func TestTasksLinkIntoComponentConcepts(t *testing.T) {
	statements := []string{"bird --> animal", "bird --> flyer", "bird --> singer"}
	submitAll := func(t *testing.T, s *Scheduler) {
		for _, line := range statements {
			tk, err := ParseInput(s.Interner(), line, nil, 0)
			require.NoError(t, err)
			require.NoError(t, s.Inbox().Submit(tk))
		}
	}

	d := &premises{}
	s := newTestScheduler(t, func(c *Config) { c.ConceptsPerCycle = 4 }, d)
	submitAll(t, s)

	r := s.Tick(context.Background())
	assert.Equal(t, 3, r.TasksFired)
	assert.Equal(t, 6, r.Linked)

	bird, ok := s.Concepts().Get("bird")
	require.True(t, ok)
	assert.Equal(t, 3, bird.TaskLinks().Len())
	for _, key := range []string{"<bird --> animal>", "<bird --> flyer>", "<bird --> singer>"} {
		assert.True(t, bird.TaskLinks().Contains(key), key)
	}
	link, _ := bird.TaskLinks().Get("<bird --> animal>")
	assert.InDelta(t, 0.4, link.Budget().Priority(), 1e-9, "each component gets an equal share")

	for _, name := range []string{"animal", "flyer", "singer"} {
		c, ok := s.Concepts().Get(name)
		require.True(t, ok, name)
		assert.Equal(t, 1, c.TaskLinks().Len(), name)
	}

	t.Run("bounded by task link capacity", func(t *testing.T) {
		s := newTestScheduler(t, func(c *Config) {
			c.ConceptsPerCycle = 4
			c.TaskLinkCapacity = 2
		}, nil)
		submitAll(t, s)
		s.Tick(context.Background())

		bird, ok := s.Concepts().Get("bird")
		require.True(t, ok)
		assert.Equal(t, 2, bird.TaskLinks().Len())
	})

	t.Run("faint shares are not linked", func(t *testing.T) {
		s := newTestScheduler(t, func(c *Config) { c.BudgetThreshold = 0.7 }, nil)
		tk, err := ParseInput(s.Interner(), "$0.8;0.8;0.8$ bird --> animal", nil, 0)
		require.NoError(t, err)
		require.NoError(t, s.Inbox().Submit(tk))

		r := s.Tick(context.Background())
		assert.Equal(t, 1, r.TasksFired)
		assert.Equal(t, 0, r.Linked)
		assert.False(t, s.Concepts().Contains("bird"))
	})
}

func TestFailuresAreIsolated(t *testing.T) {
	rec := newRecorder()
	d := &premises{}
	s := newTestScheduler(t, nil, d, WithReporter(rec))
	d.answer = func(p Premise) ([]*Task, error) {
		switch p.Task.Key() {
		case "b":
			panic("malformed premise")
		case "c":
			return nil, errors.New("no rule applies")
		}
		return []*Task{task(s.Interner(), "d", 0.5)}, nil
	}
	submit(t, s, "a", 0.3)
	submit(t, s, "b", 0.3)
	submit(t, s, "c", 0.3)

	r := s.Tick(context.Background())
	assert.Equal(t, 3, r.TasksFired)
	assert.Equal(t, 2, r.Failures)
	assert.Equal(t, 1, r.Derived)
	assert.True(t, s.Pending().Contains("d"))
	assert.ElementsMatch(t, []string{"b", "c"}, rec.removed[ReasonFailed])

	for _, key := range []string{"a", "b", "c"} {
		c, ok := s.Concepts().Get(key)
		require.True(t, ok, key)
		assert.Equal(t, key == "a", c.TaskLinks().Contains(key), key)
	}
}

func TestConceptFailureIsIsolated(t *testing.T) {
	rec := newRecorder()
	d := &premises{}
	d.answer = func(p Premise) ([]*Task, error) {
		if p.Tick == 1 {
			panic("bad link")
		}
		return nil, nil
	}
	s := newTestScheduler(t, nil, d, WithReporter(rec))
	submit(t, s, "x", 0.8)
	s.Tick(context.Background())

	r := s.Tick(context.Background())
	assert.Equal(t, 1, r.ConceptsFired)
	assert.Equal(t, 1, r.Failures)
	assert.Equal(t, []string{"x"}, rec.removed[ReasonFailed])
	c, ok := s.Concepts().Get("x")
	require.True(t, ok, "the concept survives its failed firing")
	assert.Equal(t, 0, c.TaskLinks().Len())

	r = s.Tick(context.Background())
	assert.Equal(t, 0, r.Failures, "a concept without task links derives nothing")
}

func TestBusynessBoundsNewTasks(t *testing.T) {
	t.Run("one per cycle", func(t *testing.T) {
		s := newTestScheduler(t, nil, nil)
		submit(t, s, "x", 0.6)
		submit(t, s, "y", 0.6)
		submit(t, s, "z", 0.6)

		r := s.Tick(context.Background())
		assert.Equal(t, 2, r.TasksFired)
		assert.Equal(t, 1, s.Pending().Len())
	})

	t.Run("two per cycle", func(t *testing.T) {
		d := &premises{}
		s := newTestScheduler(t, func(c *Config) { c.ConceptsPerCycle = 2 }, d)
		submit(t, s, "x", 0.6)
		submit(t, s, "y", 0.6)
		submit(t, s, "z", 0.6)

		r := s.Tick(context.Background())
		assert.Equal(t, 3, r.TasksFired)
		require.Len(t, d.seen, 3)
		for _, p := range d.seen {
			assert.Equal(t, 0.5, p.PriorityFactor)
		}
	})
}

func TestTrimDropsLowestPending(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(t, func(c *Config) { c.Duration = 2 }, nil, WithReporter(rec))
	for _, name := range []string{"t0", "t1", "t2", "t3", "t4", "t5"} {
		submit(t, s, name, 0.9)
	}

	r := s.Tick(context.Background())
	assert.Equal(t, 2, r.TasksFired)
	assert.Equal(t, 2, r.Trimmed)
	assert.Equal(t, []string{"t0", "t1"}, rec.removed[ReasonIgnored])
	assert.Equal(t, 2, s.Pending().Len())
	assert.True(t, s.Pending().Contains("t2"))
	assert.True(t, s.Pending().Contains("t3"))
}

func TestInsufficientBudgetIsDropped(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(t, nil, nil, WithReporter(rec))
	require.NoError(t, s.Inbox().Submit(NewTask(s.Interner().Atom("faint"), nil, SourceInput, 0)))

	r := s.Tick(context.Background())
	assert.Equal(t, 0, r.Ingested)
	assert.Equal(t, 1, r.Dropped)
	assert.Equal(t, []string{"faint"}, rec.removed[ReasonInsufficient])
	assert.Equal(t, 0, s.Concepts().Len())
}

func TestPendingOverflow(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(t, func(c *Config) { c.PendingCapacity = 2 }, nil, WithReporter(rec))
	submit(t, s, "a", 0.9)
	submit(t, s, "b", 0.5)
	submit(t, s, "c", 0.7)

	s.Tick(context.Background())
	assert.Equal(t, []string{"b"}, rec.removed[ReasonOverflow])
}

func TestConceptEvictionAndRestore(t *testing.T) {
	store, err := archive.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec := newRecorder()
	s := newTestScheduler(t, func(c *Config) { c.ConceptCapacity = 1 }, nil,
		WithReporter(rec), WithArchive(store))
	ctx := context.Background()

	submit(t, s, "a", 0.9)
	s.Tick(ctx)

	submit(t, s, "b", 0.95)
	r := s.Tick(ctx)
	assert.Equal(t, 1, r.Evicted)
	assert.Equal(t, 0, r.ConceptsFired, "the evicted concept does not fire")
	assert.Equal(t, []string{"a"}, rec.evicted)
	archived, err := store.Load("a")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, archived.Priority, 1e-9)

	submit(t, s, "a", 0.9)
	r = s.Tick(ctx)
	assert.Equal(t, 1, r.Restored)
	assert.Equal(t, 1, r.Evicted)
	assert.Equal(t, []string{"a", "b"}, rec.evicted)

	c, ok := s.Concepts().Get("a")
	require.True(t, ok)
	assert.True(t, c.Restored())
	assert.InDelta(t, 1.0, c.Budget().Priority(), 1e-9, "archived priority is merged back in")

	_, err = store.Load("a")
	assert.True(t, errors.Is(err, archive.ErrNotFound))
	_, err = store.Load("b")
	assert.NoError(t, err)
}

func TestRejectedConcept(t *testing.T) {
	store, err := archive.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Save(archive.Record{Term: "b", Priority: 0.1, Durability: 0.5, Quality: 0.5}))

	rec := newRecorder()
	s := newTestScheduler(t, func(c *Config) { c.ConceptCapacity = 1 }, nil,
		WithReporter(rec), WithArchive(store))
	ctx := context.Background()

	submit(t, s, "a", 0.9)
	s.Tick(ctx)

	submit(t, s, "b", 0.3)
	r := s.Tick(ctx)
	assert.Equal(t, 0, r.Restored)
	assert.Equal(t, 0, r.Evicted)
	assert.Equal(t, []string{"b"}, rec.removed[ReasonInsufficient])
	assert.True(t, s.Concepts().Contains("a"))
	assert.False(t, s.Concepts().Contains("b"))

	back, err := store.Load("b")
	require.NoError(t, err, "the archived record is given back")
	assert.Equal(t, 0.1, back.Priority)
}

func TestPolicyControlsFiring(t *testing.T) {
	ignore := func(*Concept) bag.ForgetAction { return bag.Ignore }
	s := newTestScheduler(t, func(c *Config) { c.Policy = ignore }, nil)
	submit(t, s, "x", 0.8)
	s.Tick(context.Background())

	r := s.Tick(context.Background())
	assert.Equal(t, 0, r.ConceptsFired)
	c, _ := s.Concepts().Get("x")
	assert.Equal(t, 0.8, c.Budget().Priority(), "ignored concepts are not decayed")

	bad := func(*Concept) bag.ForgetAction { return bag.ForgetAction(9) }
	s = newTestScheduler(t, func(c *Config) { c.Policy = bad }, nil)
	submit(t, s, "x", 0.8)
	s.Tick(context.Background())
	assert.Panics(t, func() { s.Tick(context.Background()) })
}

func TestConceptsDecayOverTicks(t *testing.T) {
	s := newTestScheduler(t, func(c *Config) { c.Duration = 1; c.ConceptForgetDurations = 1 }, nil)
	submit(t, s, "x", 0.8)
	ctx := context.Background()
	s.Tick(ctx)

	c, _ := s.Concepts().Get("x")
	last := c.Budget().Priority()
	for i := 0; i < 5; i++ {
		s.Tick(ctx)
		p := c.Budget().Priority()
		assert.LessOrEqual(t, p, last)
		last = p
	}
	assert.Less(t, last, 0.8)
	assert.GreaterOrEqual(t, last, s.cfg.MinForgettablePriority)
}

func TestSampleSelection(t *testing.T) {
	fired := func(t *testing.T, seed uint64) [][]string {
		d := &premises{}
		s := newTestScheduler(t, func(c *Config) {
			c.ConceptsPerCycle = 2
			c.Selection = SelectionSample
			c.Seed = seed
		}, d)
		for _, name := range []string{"a", "b", "c", "d"} {
			submit(t, s, name, 0.6)
		}
		ctx := context.Background()
		s.Tick(ctx)
		require.Equal(t, 4, s.Concepts().Len())

		var ticks [][]string
		for i := 0; i < 6; i++ {
			before := len(d.seen)
			r := s.Tick(ctx)
			assert.GreaterOrEqual(t, r.ConceptsFired, 1)
			assert.LessOrEqual(t, r.ConceptsFired, 2)

			var keys []string
			for _, p := range d.seen[before:] {
				assert.NotContains(t, keys, p.Concept.Key(), "a concept fires at most once per tick")
				keys = append(keys, p.Concept.Key())
			}
			ticks = append(ticks, keys)
		}
		return ticks
	}

	first := fired(t, 7)
	assert.Equal(t, first, fired(t, 7), "a fixed seed replays the same selections")

	s := newTestScheduler(t, func(c *Config) { c.Selection = SelectionSample }, nil)
	assert.Empty(t, s.sampleConcepts(3), "an empty bag samples nothing")
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	_, err := New(Config{}, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"capacity", func(c *Config) { c.TaskLinkCapacity = 0 }},
		{"per cycle", func(c *Config) { c.ConceptsPerCycle = 0 }},
		{"duration", func(c *Config) { c.Duration = -1 }},
		{"forget", func(c *Config) { c.ConceptForgetDurations = 0 }},
		{"depth", func(c *Config) { c.ForgetExtraDepth = -1 }},
		{"min priority", func(c *Config) { c.MinForgettablePriority = 2 }},
		{"threshold", func(c *Config) { c.BudgetThreshold = -0.5 }},
		{"merge", func(c *Config) { c.Merge = budget.MergePolicy(7) }},
		{"interval", func(c *Config) { c.TickInterval = -time.Millisecond }},
		{"selection", func(c *Config) { c.Selection = "random" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
		})
	}
}

func TestRunMaxTicks(t *testing.T) {
	s := newTestScheduler(t, func(c *Config) { c.MaxTicks = 3 }, nil)
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int64(3), s.Ticks())
	assert.Equal(t, int64(3), s.Snapshot().Tick)
}

func TestRunStop(t *testing.T) {
	s := newTestScheduler(t, func(c *Config) { c.TickInterval = time.Millisecond }, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return s.Snapshot().Tick >= 2 }, 2*time.Second, time.Millisecond)
	s.Stop()
	s.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.True(t, errors.Is(s.Inbox().Submit(task(s.Interner(), "late", 0.5)), ErrStopped))

	// stopped before the first tick
	s = newTestScheduler(t, nil, nil)
	s.Stop()
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int64(0), s.Ticks())
}

func TestRunCancelAndReentry(t *testing.T) {
	s := newTestScheduler(t, func(c *Config) { c.TickInterval = time.Millisecond }, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, s.running.Load, 2*time.Second, time.Millisecond)

	assert.True(t, errors.Is(s.Run(context.Background()), ErrAlreadyRunning))

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestInboxFeedsRunningScheduler(t *testing.T) {
	s := newTestScheduler(t, func(c *Config) { c.TickInterval = time.Millisecond }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Inbox().Submit(task(s.Interner(), "shared", 0.7))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return len(snap.TopConcepts) == 1 && snap.TopConcepts[0].Key == "shared"
	}, 2*time.Second, time.Millisecond)
}
