package cycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/orneryd/attend/pkg/budget"
	"github.com/orneryd/attend/pkg/novelty"
	"github.com/orneryd/attend/pkg/term"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(in *term.Interner, name string, p float64) *Task {
	return NewTask(in.Atom(name), budget.MustNew(p, 0.5, 0.5), SourceInput, 0)
}

func TestInboxSubmitDrain(t *testing.T) {
	in := NewInbox(InboxOptions{Size: 4})
	terms := term.NewInterner()

	require.NoError(t, in.Submit(task(terms, "a", 0.5)))
	require.NoError(t, in.Submit(task(terms, "b", 0.5)))
	assert.Equal(t, 2, in.Len())

	got := in.Drain(nil)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Key())
	assert.Equal(t, "b", got[1].Key())
	assert.Equal(t, 0, in.Len())
	assert.Empty(t, in.Drain(nil))

	st := in.Stats()
	assert.Equal(t, uint64(2), st.Submitted)
	assert.Equal(t, 4, st.Capacity)
}

func TestInboxFull(t *testing.T) {
	in := NewInbox(InboxOptions{Size: 2})
	terms := term.NewInterner()
	require.NoError(t, in.Submit(task(terms, "a", 0.5)))
	require.NoError(t, in.Submit(task(terms, "b", 0.5)))

	err := in.Submit(task(terms, "c", 0.5))
	assert.True(t, errors.Is(err, ErrInboxFull))
	assert.Equal(t, uint64(1), in.Stats().Refused)
}

func TestInboxRateLimit(t *testing.T) {
	in := NewInbox(InboxOptions{Rate: 1, Burst: 1})
	terms := term.NewInterner()

	require.NoError(t, in.Submit(task(terms, "a", 0.5)))
	err := in.Submit(task(terms, "b", 0.5))
	assert.True(t, errors.Is(err, ErrRateLimited))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, in.SubmitWait(ctx, task(terms, "c", 0.5)))
	assert.Equal(t, 1, in.Len())
}

func TestInboxDuplicates(t *testing.T) {
	in := NewInbox(InboxOptions{Novelty: novelty.New(novelty.Options{Window: 10})})
	terms := term.NewInterner()

	require.NoError(t, in.Submit(task(terms, "a", 0.5)))
	err := in.Submit(task(terms, "a", 0.5))
	assert.True(t, errors.Is(err, ErrDuplicate))

	// a different budget is a different input
	require.NoError(t, in.Submit(task(terms, "a", 0.6)))

	in.SetTick(20)
	require.NoError(t, in.Submit(task(terms, "a", 0.5)))
	assert.Equal(t, 3, in.Len())
}

func TestInboxClose(t *testing.T) {
	in := NewInbox(InboxOptions{})
	terms := term.NewInterner()
	require.NoError(t, in.Submit(task(terms, "a", 0.5)))

	in.Close()
	assert.True(t, errors.Is(in.Submit(task(terms, "b", 0.5)), ErrStopped))
	assert.True(t, errors.Is(in.SubmitWait(context.Background(), task(terms, "b", 0.5)), ErrStopped))
	assert.Len(t, in.Drain(nil), 1, "queued tasks survive close")
}

func TestInboxConcurrentProducers(t *testing.T) {
	in := NewInbox(InboxOptions{Size: 1000})
	terms := term.NewInterner()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = in.Submit(task(terms, "x", 0.5))
			}
		}()
	}

	drained := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		drained += len(in.Drain(nil))
		select {
		case <-done:
			drained += len(in.Drain(nil))
			assert.Equal(t, 400, drained)
			return
		default:
		}
	}
}
