package bag

import (
	"fmt"

	"github.com/orneryd/attend/pkg/budget"
)

// Item is the unit stored in a bag: an immutable key and a mutable budget.
//
// Implementations must return the same key for the item's whole life and
// the same *budget.Budget on every call.
type Item[K comparable] interface {
	Key() K
	Budget() *budget.Budget
}

// Updater is the update half of a transaction. It is enough for changing
// items that are already in a bag (see Bag.Update).
type Updater[K comparable, V Item[K]] interface {
	// Key is the key to look up.
	Key() K

	// UpdateItem is called with the resident item for Key. Return nil when
	// nothing rank-relevant changed; the bag then skips reindexing. Return
	// the item's budget (or a replacement whose values are copied into it)
	// to have the item re-ranked. A returned budget in the deleted state
	// removes the item.
	UpdateItem(existing V) *budget.Budget
}

// Transaction is the full update-or-create contract consumed by Bag.Put.
type Transaction[K comparable, V Item[K]] interface {
	Updater[K, V]

	// NewItem is called only when no item with Key is present.
	NewItem() V

	// Overflow is called with the resident evicted to make room for the new
	// item. A rejected new item is returned by Put without reaching Overflow.
	Overflow(evicted V)
}

// DeleteOnOverflow provides the default Overflow behavior for embedding:
// the displaced item's budget is deleted.
type DeleteOnOverflow[K comparable, V Item[K]] struct{}

// Overflow deletes the evicted item's budget.
func (DeleteOnOverflow[K, V]) Overflow(evicted V) {
	evicted.Budget().Delete()
}

// Entry is a plain key plus budget item.
type Entry[K comparable] struct {
	key    K
	budget *budget.Budget
}

// NewEntry creates an entry. A nil budget becomes a zero budget.
func NewEntry[K comparable](key K, b *budget.Budget) *Entry[K] {
	if b == nil {
		b = &budget.Budget{}
	}
	return &Entry[K]{key: key, budget: b}
}

// Key returns the entry key.
func (e *Entry[K]) Key() K { return e.key }

// Budget returns the entry budget.
func (e *Entry[K]) Budget() *budget.Budget { return e.budget }

func (e *Entry[K]) String() string {
	return fmt.Sprintf("%v %s", e.key, e.budget)
}

// PutEntry is a ready-made transaction that inserts an entry or merges its
// budget into the resident one.
type PutEntry[K comparable] struct {
	DeleteOnOverflow[K, *Entry[K]]

	Entry  *Entry[K]
	Policy budget.MergePolicy
}

// Key returns the entry key.
func (p PutEntry[K]) Key() K { return p.Entry.key }

// NewItem returns the entry itself.
func (p PutEntry[K]) NewItem() *Entry[K] { return p.Entry }

// UpdateItem merges the new budget into the resident entry.
func (p PutEntry[K]) UpdateItem(existing *Entry[K]) *budget.Budget {
	before := existing.budget.Clone(false)
	existing.budget.Merge(p.Policy, p.Entry.budget)
	if existing.budget.EqualsByPrecision(before, 0) {
		return nil
	}
	return existing.budget
}
