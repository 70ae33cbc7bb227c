// Package novelty suppresses repeated inputs.
//
// A Filter remembers the inputs it has admitted for a window of ticks. An
// input seen again inside the window is dropped, except that a configurable
// share of repeats is let through so that a persistent signal can still
// re-enter memory.
//
// Features:
// - LRU eviction for bounded memory
// - Tick-based expiration
// - Thread-safe operations
// - Admit/suppress statistics
//
// Usage:
//
//	f := novelty.New(novelty.Options{Size: 4096, Window: 100, RepeatProbability: 0.05})
//
//	if !f.Admit(line, now) {
//		return // recently seen
//	}
package novelty

import (
	"container/list"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// DefaultSize is used when Options.Size is not positive.
const DefaultSize = 1000

// Options configures a Filter.
type Options struct {
	// Size is the maximum number of remembered inputs (LRU eviction beyond it).
	Size int

	// Window is how many ticks an input stays remembered. 0 disables the
	// filter: every input is admitted.
	Window int64

	// RepeatProbability is the chance that a remembered input is admitted
	// anyway.
	RepeatProbability float64

	// Rand is the random source for repeat admission. Nil uses a
	// process-seeded source.
	Rand *rand.Rand
}

// Filter is a thread-safe, bounded, tick-expiring set of recently admitted
// inputs.
//
// The filter uses:
// - Hash map for O(1) lookups
// - Doubly-linked list for LRU ordering
// - A per-entry tick stamp for expiry
type Filter struct {
	mu sync.Mutex

	size   int
	window int64
	repeat float64
	rng    *rand.Rand

	list  *list.List
	items map[uint64]*list.Element

	admitted   uint64
	suppressed uint64
	repeated   uint64
}

// seenEntry holds a remembered input.
type seenEntry struct {
	key  uint64
	seen int64
}

// New creates a filter.
func New(opts Options) *Filter {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Filter{
		size:   opts.Size,
		window: opts.Window,
		repeat: opts.RepeatProbability,
		rng:    rng,
		list:   list.New(),
		items:  make(map[uint64]*list.Element, opts.Size),
	}
}

// Key hashes an input. Same text = same key.
func Key(input string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(input))
	return h.Sum64()
}

// Admit reports whether input should be processed at tick now, and
// remembers it when it is.
func (f *Filter) Admit(input string, now int64) bool {
	if f.window <= 0 {
		atomic.AddUint64(&f.admitted, 1)
		return true
	}

	key := Key(input)

	f.mu.Lock()
	defer f.mu.Unlock()

	if elem, ok := f.items[key]; ok {
		entry := elem.Value.(*seenEntry)
		if now-entry.seen < f.window {
			if f.repeat <= 0 || f.rng.Float64() >= f.repeat {
				atomic.AddUint64(&f.suppressed, 1)
				return false
			}
			atomic.AddUint64(&f.repeated, 1)
		}
		entry.seen = now
		f.list.MoveToFront(elem)
		atomic.AddUint64(&f.admitted, 1)
		return true
	}

	for f.list.Len() >= f.size {
		f.evictOldest()
	}
	f.items[key] = f.list.PushFront(&seenEntry{key: key, seen: now})
	atomic.AddUint64(&f.admitted, 1)
	return true
}

// Forget drops input from the filter.
func (f *Filter) Forget(input string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if elem, ok := f.items[Key(input)]; ok {
		f.removeElement(elem)
	}
}

// Expire drops every entry older than the window at tick now. Returns the
// number removed.
func (f *Filter) Expire(now int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for elem := f.list.Back(); elem != nil; {
		prev := elem.Prev()
		if now-elem.Value.(*seenEntry).seen >= f.window {
			f.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Clear removes all entries.
func (f *Filter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.list.Init()
	f.items = make(map[uint64]*list.Element, f.size)
}

// Len returns the number of remembered inputs.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list.Len()
}

// Stats holds filter statistics.
type Stats struct {
	Size       int    `json:"size"`
	MaxSize    int    `json:"max_size"`
	Admitted   uint64 `json:"admitted"`
	Suppressed uint64 `json:"suppressed"`
	Repeated   uint64 `json:"repeated"`
}

// Stats returns filter statistics.
func (f *Filter) Stats() Stats {
	return Stats{
		Size:       f.Len(),
		MaxSize:    f.size,
		Admitted:   atomic.LoadUint64(&f.admitted),
		Suppressed: atomic.LoadUint64(&f.suppressed),
		Repeated:   atomic.LoadUint64(&f.repeated),
	}
}

// evictOldest removes the least recently admitted entry.
// Caller must hold the lock.
func (f *Filter) evictOldest() {
	if elem := f.list.Back(); elem != nil {
		f.removeElement(elem)
	}
}

// removeElement removes an element from the filter.
// Caller must hold the lock.
func (f *Filter) removeElement(elem *list.Element) {
	f.list.Remove(elem)
	delete(f.items, elem.Value.(*seenEntry).key)
}
