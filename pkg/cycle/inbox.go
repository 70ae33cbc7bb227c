package cycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/orneryd/attend/pkg/novelty"
	"golang.org/x/time/rate"
)

var (
	// ErrInboxFull is returned when the inbox is at capacity.
	ErrInboxFull = errors.New("inbox full")
	// ErrRateLimited is returned when a producer exceeds the input rate.
	ErrRateLimited = errors.New("input rate exceeded")
	// ErrDuplicate is returned for an input seen within the duplicate window.
	ErrDuplicate = errors.New("duplicate input")
	// ErrStopped is returned after the inbox is closed.
	ErrStopped = errors.New("scheduler stopped")
)

// DefaultInboxSize is used when InboxOptions.Size is not positive.
const DefaultInboxSize = 1024

// InboxOptions configures an Inbox.
type InboxOptions struct {
	// Size bounds the number of queued tasks.
	Size int
	// Rate is the sustained submissions per second. 0 means unlimited.
	Rate float64
	// Burst is the rate limiter bucket size.
	Burst int
	// Novelty drops repeated inputs when set.
	Novelty *novelty.Filter
}

// Inbox is the thread-safe hand-off between producers and the scheduler.
// Producers call Submit from any goroutine; the scheduler drains it once per
// tick during Ingest.
type Inbox struct {
	mu     sync.Mutex
	queue  []*Task
	size   int
	closed bool

	limiter *rate.Limiter
	novelty *novelty.Filter
	tick    atomic.Int64

	submitted atomic.Uint64
	refused   atomic.Uint64
}

// InboxStats counts inbox activity.
type InboxStats struct {
	Queued    int    `json:"queued"`
	Capacity  int    `json:"capacity"`
	Submitted uint64 `json:"submitted"`
	Refused   uint64 `json:"refused"`
}

// NewInbox creates an inbox.
func NewInbox(opts InboxOptions) *Inbox {
	if opts.Size <= 0 {
		opts.Size = DefaultInboxSize
	}
	in := &Inbox{
		queue:   make([]*Task, 0, min(opts.Size, 64)),
		size:    opts.Size,
		novelty: opts.Novelty,
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		in.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return in
}

// Submit queues t without blocking.
//
// Returns ErrStopped, ErrInboxFull, ErrRateLimited or ErrDuplicate when t is
// refused.
func (in *Inbox) Submit(t *Task) error {
	return in.submit(t, true)
}

// SubmitWait queues t, waiting for the rate limiter instead of failing.
// It never waits for space: a full inbox still returns ErrInboxFull.
func (in *Inbox) SubmitWait(ctx context.Context, t *Task) error {
	if in.limiter != nil {
		if err := in.limiter.Wait(ctx); err != nil {
			in.refused.Add(1)
			return err
		}
	}
	return in.submit(t, false)
}

func (in *Inbox) submit(t *Task, checkRate bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	err := in.admit(t, checkRate)
	if err != nil {
		in.refused.Add(1)
		return err
	}
	in.queue = append(in.queue, t)
	in.submitted.Add(1)
	return nil
}

// admit must be called with mu held.
func (in *Inbox) admit(t *Task, checkRate bool) error {
	if in.closed {
		return ErrStopped
	}
	if len(in.queue) >= in.size {
		return ErrInboxFull
	}
	if checkRate && in.limiter != nil && !in.limiter.Allow() {
		return ErrRateLimited
	}
	if in.novelty != nil && !in.novelty.Admit(t.String(), in.tick.Load()) {
		return ErrDuplicate
	}
	return nil
}

// Drain moves every queued task into buf and returns it.
func (in *Inbox) Drain(buf []*Task) []*Task {
	in.mu.Lock()
	defer in.mu.Unlock()
	buf = append(buf, in.queue...)
	clear(in.queue)
	in.queue = in.queue[:0]
	return buf
}

// Len returns the number of queued tasks.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// SetTick tells the duplicate filter the scheduler's current tick.
func (in *Inbox) SetTick(tick int64) {
	in.tick.Store(tick)
	if in.novelty != nil {
		in.novelty.Expire(tick)
	}
}

// Close refuses further submissions. Queued tasks can still be drained.
func (in *Inbox) Close() {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
}

// Stats returns inbox counters.
func (in *Inbox) Stats() InboxStats {
	return InboxStats{
		Queued:    in.Len(),
		Capacity:  in.size,
		Submitted: in.submitted.Load(),
		Refused:   in.refused.Load(),
	}
}
