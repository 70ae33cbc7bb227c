// Package bag provides a fixed-capacity, key-unique container of budgeted
// items ordered by priority.
//
// A Bag keeps two structures in lockstep:
//   - a map from key to node for constant-time lookup
//   - a B-tree of nodes ordered by (rank, touch sequence) for exact
//     highest/lowest queries in O(log n)
//
// A third structure, a ring of all nodes, drives ForgetNext so that repeated
// calls sweep the whole bag instead of revisiting the same few items.
//
// Rank is a snapshot of the item's priority taken whenever the bag indexes
// the item (insert, update that reports a change, forgetting). Equal ranks
// are ordered by touch sequence: the most recently touched item ranks higher
// and is the last to be evicted.
//
// An item whose budget is deleted while resident is treated as absent. The
// bag purges such items lazily, on the next read or on a put into a full bag,
// before any live item is considered for eviction.
//
// Example:
//
//	concepts := bag.New[string, *bag.Entry[string]](1000)
//	concepts.Put(bag.PutEntry[string]{
//		Entry:  bag.NewEntry("bird", budget.MustNew(0.8, 0.5, 0.9)),
//		Policy: budget.Plus,
//	})
//	for _, c := range concepts.SelectHighest(3) {
//		fmt.Println(c.Key(), c.Budget())
//	}
//
// Thread Safety:
//
//	A Bag is not safe for concurrent use. It is owned by a single goroutine
//	(the cycle scheduler); other goroutines hand work to that owner.
package bag

import (
	"container/list"
	"iter"
	"math"
	"math/rand/v2"

	"github.com/google/btree"
	"github.com/orneryd/attend/pkg/budget"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1000

// btreeDegree is the B-tree node fan-out.
const btreeDegree = 16

// node is the bag's bookkeeping for one resident item.
type node[K comparable, V Item[K]] struct {
	item V
	rank float64
	seq  uint64
	ring *list.Element
}

func lessNode[K comparable, V Item[K]](a, b *node[K, V]) bool {
	if a.rank != b.rank {
		return a.rank < b.rank
	}
	return a.seq < b.seq
}

// Bag is a capacity-bounded, priority-ranked item store.
type Bag[K comparable, V Item[K]] struct {
	capacity int

	items map[K]*node[K, V]
	order *btree.BTreeG[*node[K, V]]

	ring   *list.List
	cursor *list.Element

	seq   uint64
	stats Stats
}

// Stats counts bag activity since creation or the last Clear.
type Stats struct {
	Size       int    `json:"size"`
	Capacity   int    `json:"capacity"`
	Inserts    uint64 `json:"inserts"`
	Updates    uint64 `json:"updates"`
	Unchanged  uint64 `json:"unchanged"`
	Evictions  uint64 `json:"evictions"`
	Rejections uint64 `json:"rejections"`
	Takes      uint64 `json:"takes"`
	Forgets    uint64 `json:"forgets"`
	Purged     uint64 `json:"purged"`
}

// New creates an empty bag holding at most capacity items.
func New[K comparable, V Item[K]](capacity int) *Bag[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bag[K, V]{
		capacity: capacity,
		items:    make(map[K]*node[K, V], capacity),
		order:    btree.NewG(btreeDegree, lessNode[K, V]),
		ring:     list.New(),
	}
}

// Len returns the number of resident items.
func (b *Bag[K, V]) Len() int {
	b.purge()
	return len(b.items)
}

// Cap returns the fixed capacity.
func (b *Bag[K, V]) Cap() int { return b.capacity }

// Stats returns a copy of the activity counters.
func (b *Bag[K, V]) Stats() Stats {
	b.purge()
	s := b.stats
	s.Size = len(b.items)
	s.Capacity = b.capacity
	return s
}

// Contains reports whether key is resident.
func (b *Bag[K, V]) Contains(key K) bool {
	n, ok := b.items[key]
	return ok && b.alive(n)
}

// Get returns the resident item for key without removing it.
func (b *Bag[K, V]) Get(key K) (V, bool) {
	n, ok := b.items[key]
	if !ok || !b.alive(n) {
		var zero V
		return zero, false
	}
	return n.item, true
}

// Put inserts or updates the item for tx.Key().
//
// When the key is resident, tx.UpdateItem decides whether the item is
// re-ranked (non-nil budget) or left in place (nil). An update that leaves the
// budget deleted removes the item, which is returned.
//
// When the key is absent, tx.NewItem builds the item. A new item whose budget
// is already deleted is not inserted and is returned. If the bag is full, the
// lowest-ranked resident is compared with the new item. A strictly higher
// resident rejects the new item, which is returned unmodified and the bag is
// left unchanged. Otherwise the resident is evicted, passed to tx.Overflow
// and returned.
//
// The second result reports whether an item was displaced or rejected.
func (b *Bag[K, V]) Put(tx Transaction[K, V]) (V, bool) {
	var zero V
	key := tx.Key()

	if n, ok := b.items[key]; ok && b.alive(n) {
		return b.update(n, tx)
	}

	item := tx.NewItem()
	bud := item.Budget()
	if bud == nil || bud.IsDeleted() {
		b.stats.Rejections++
		return item, true
	}

	if len(b.items) >= b.capacity {
		b.purge()
	}
	if len(b.items) < b.capacity {
		b.insert(item)
		return zero, false
	}

	lowest, _ := b.order.Min()
	if lowest.rank > rankOf(bud) {
		b.stats.Rejections++
		return item, true
	}

	b.remove(lowest)
	b.stats.Evictions++
	tx.Overflow(lowest.item)
	b.insert(item)
	return lowest.item, true
}

// Update applies u to the resident item for u.Key(). It never creates items.
// Returns the item if the update deleted its budget and it was removed.
func (b *Bag[K, V]) Update(u Updater[K, V]) (V, bool) {
	n, ok := b.items[u.Key()]
	if !ok || !b.alive(n) {
		var zero V
		return zero, false
	}
	return b.update(n, u)
}

func (b *Bag[K, V]) update(n *node[K, V], u Updater[K, V]) (V, bool) {
	var zero V
	changed := u.UpdateItem(n.item)
	if changed == nil {
		b.stats.Unchanged++
		return zero, false
	}

	bud := n.item.Budget()
	if changed != bud {
		if changed.IsDeleted() {
			bud.Delete()
		} else {
			bud.CopyFrom(changed)
		}
	}

	if bud.IsDeleted() {
		b.remove(n)
		return n.item, true
	}

	b.stats.Updates++
	b.reindex(n)
	return zero, false
}

// Take removes and returns the item for key.
func (b *Bag[K, V]) Take(key K) (V, bool) {
	n, ok := b.items[key]
	if !ok || !b.alive(n) {
		var zero V
		return zero, false
	}
	b.remove(n)
	b.stats.Takes++
	return n.item, true
}

// TakeHighest removes and returns the highest-ranked item.
func (b *Bag[K, V]) TakeHighest() (V, bool) {
	b.purge()
	n, ok := b.order.Max()
	if !ok {
		var zero V
		return zero, false
	}
	b.remove(n)
	b.stats.Takes++
	return n.item, true
}

// PeekLowest returns the current eviction candidate without removing it.
func (b *Bag[K, V]) PeekLowest() (V, bool) {
	b.purge()
	n, ok := b.order.Min()
	if !ok {
		var zero V
		return zero, false
	}
	return n.item, true
}

// SelectHighest returns up to n items in descending rank order without
// removing them.
func (b *Bag[K, V]) SelectHighest(n int) []V {
	b.purge()
	if n <= 0 || len(b.items) == 0 {
		return nil
	}
	out := make([]V, 0, min(n, len(b.items)))
	b.order.Descend(func(nd *node[K, V]) bool {
		out = append(out, nd.item)
		return len(out) < n
	})
	return out
}

// Sample picks one item with probability proportional to its rank. When
// every rank is zero the pick is uniform. rng must not be nil.
func (b *Bag[K, V]) Sample(rng *rand.Rand) (V, bool) {
	var zero V
	b.purge()
	if len(b.items) == 0 {
		return zero, false
	}

	total := 0.0
	b.order.Ascend(func(nd *node[K, V]) bool {
		total += nd.rank
		return true
	})

	var picked *node[K, V]
	if total <= 0 {
		target := rng.IntN(len(b.items))
		i := 0
		b.order.Ascend(func(nd *node[K, V]) bool {
			picked = nd
			i++
			return i <= target
		})
		return picked.item, true
	}

	r := rng.Float64() * total
	b.order.Descend(func(nd *node[K, V]) bool {
		picked = nd
		r -= nd.rank
		return r > 0
	})
	return picked.item, true
}

// All yields every item in descending rank order. The sequence is finite and
// restartable; mutating the bag while ranging over it is not supported.
// Items deleted during the range are skipped.
func (b *Bag[K, V]) All() iter.Seq[V] {
	return func(yield func(V) bool) {
		b.purge()
		b.order.Descend(func(nd *node[K, V]) bool {
			if nd.item.Budget().IsDeleted() {
				return true
			}
			return yield(nd.item)
		})
	}
}

// Keys yields every key in descending rank order.
func (b *Bag[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for item := range b.All() {
			if !yield(item.Key()) {
				return
			}
		}
	}
}

// PrioritySum returns the sum of resident ranks.
func (b *Bag[K, V]) PrioritySum() float64 {
	b.purge()
	sum := 0.0
	b.order.Ascend(func(nd *node[K, V]) bool {
		sum += nd.rank
		return true
	})
	return sum
}

// Limit removes the lowest-ranked items until at most n remain, passing each
// to onDrop (which may be nil). Returns the number removed.
func (b *Bag[K, V]) Limit(n int, onDrop func(V)) int {
	if n < 0 {
		n = 0
	}
	b.purge()
	removed := 0
	for len(b.items) > n {
		lowest, _ := b.order.Min()
		b.remove(lowest)
		removed++
		if onDrop != nil {
			onDrop(lowest.item)
		}
	}
	return removed
}

// Clear removes every item and resets the counters.
func (b *Bag[K, V]) Clear() {
	b.items = make(map[K]*node[K, V], b.capacity)
	b.order.Clear(false)
	b.ring.Init()
	b.cursor = nil
	b.stats = Stats{}
}

func (b *Bag[K, V]) insert(item V) {
	b.seq++
	n := &node[K, V]{item: item, rank: rankOf(item.Budget()), seq: b.seq}
	n.ring = b.ring.PushBack(n)
	b.items[item.Key()] = n
	b.order.ReplaceOrInsert(n)
	b.stats.Inserts++
}

// reindex refreshes the rank snapshot and touch sequence of a resident node.
func (b *Bag[K, V]) reindex(n *node[K, V]) {
	b.order.Delete(n)
	b.seq++
	n.rank = rankOf(n.item.Budget())
	n.seq = b.seq
	b.order.ReplaceOrInsert(n)
}

// alive reports whether n's budget is live, removing n when it is not.
func (b *Bag[K, V]) alive(n *node[K, V]) bool {
	if !n.item.Budget().IsDeleted() {
		return true
	}
	b.remove(n)
	b.stats.Purged++
	return false
}

// purge removes every item whose budget was deleted outside the bag.
func (b *Bag[K, V]) purge() {
	var dead []*node[K, V]
	for _, n := range b.items {
		if n.item.Budget().IsDeleted() {
			dead = append(dead, n)
		}
	}
	for _, n := range dead {
		b.remove(n)
		b.stats.Purged++
	}
}

// remove drops n from all three structures.
func (b *Bag[K, V]) remove(n *node[K, V]) {
	b.order.Delete(n)
	delete(b.items, n.item.Key())
	if b.cursor == n.ring {
		b.cursor = n.ring.Next()
	}
	b.ring.Remove(n.ring)
}

func rankOf(bud *budget.Budget) float64 {
	p := bud.Priority()
	if math.IsNaN(p) {
		return 0
	}
	return p
}
