package bag

import (
	"errors"
	"fmt"

	"github.com/orneryd/attend/pkg/budget"
	"github.com/orneryd/attend/pkg/decay"
)

// ForgetAction is a forgetting policy's verdict for one item.
type ForgetAction int

const (
	// Select surfaces the item for selection and decays it.
	Select ForgetAction = iota
	// SelectAndForget surfaces the item and decays it. It is the default.
	SelectAndForget
	// Ignore leaves the item untouched and unselected.
	Ignore
	// IgnoreAndForget decays the item without surfacing it.
	IgnoreAndForget
)

// ErrInvalidForgetAction is the panic value when a policy returns an action
// outside the four defined ones.
var ErrInvalidForgetAction = errors.New("invalid forget action")

func (a ForgetAction) String() string {
	switch a {
	case Select:
		return "select"
	case SelectAndForget:
		return "select-and-forget"
	case Ignore:
		return "ignore"
	case IgnoreAndForget:
		return "ignore-and-forget"
	}
	return fmt.Sprintf("ForgetAction(%d)", int(a))
}

// Valid reports whether a is one of the defined actions.
func (a ForgetAction) Valid() bool {
	return a >= Select && a <= IgnoreAndForget
}

func (a ForgetAction) selects() bool { return a == Select || a == SelectAndForget }

func (a ForgetAction) forgets() bool { return a != Ignore }

// Policy classifies an item for one forgetting pass.
type Policy[K comparable, V Item[K]] func(item V) ForgetAction

// Forgetting is a reusable update transaction that decays the item it is
// applied to. Set the key with Reset before each use.
//
// Example:
//
//	f := &bag.Forgetting[string, *Concept]{Period: 50, MinPriority: 0.01}
//	f.Reset("bird", now)
//	concepts.Update(f)
//	if c, ok := f.Selected(); ok {
//		fire(c)
//	}
type Forgetting[K comparable, V Item[K]] struct {
	// Period is the number of ticks per decay period.
	Period float64
	// MinPriority is the floor decay never crosses.
	MinPriority float64
	// Curve is the decay curve; nil means decay.Default.
	Curve decay.Curve
	// Policy classifies items; nil means SelectAndForget for all.
	Policy Policy[K, V]

	key         K
	now         int64
	selected    V
	hasSelected bool
}

// Reset targets the transaction at key and sets the current tick.
func (f *Forgetting[K, V]) Reset(key K, now int64) {
	var zero V
	f.key, f.now = key, now
	f.selected, f.hasSelected = zero, false
}

// Key returns the targeted key.
func (f *Forgetting[K, V]) Key() K { return f.key }

// Selected returns the last item the policy chose to surface.
func (f *Forgetting[K, V]) Selected() (V, bool) {
	return f.selected, f.hasSelected
}

// UpdateItem classifies the item, records it as selected when asked to, and
// decays it when asked to. Returns nil when priority did not change.
//
// Panics with ErrInvalidForgetAction when the policy returns an undefined
// action.
func (f *Forgetting[K, V]) UpdateItem(item V) *budget.Budget {
	action := SelectAndForget
	if f.Policy != nil {
		action = f.Policy(item)
	}
	if !action.Valid() {
		panic(fmt.Errorf("%w: %d for %v", ErrInvalidForgetAction, int(action), item.Key()))
	}

	if action.selects() {
		f.selected, f.hasSelected = item, true
	} else {
		var zero V
		f.selected, f.hasSelected = zero, false
	}

	if !action.forgets() {
		return nil
	}

	bud := item.Budget()
	before := bud.Priority()
	after := bud.DecayWith(f.Curve, f.now, f.Period, f.MinPriority)
	if after == before {
		return nil
	}
	return bud
}

// ForgetNext decays a bounded slice of the bag: 1 + extraDepth×Len() items
// (at most Len()), taken round-robin so that successive calls sweep every
// item. f supplies period, floor, curve and policy; its key and tick are set
// per visited item. Returns the number of items visited.
func (b *Bag[K, V]) ForgetNext(f *Forgetting[K, V], extraDepth float64, now int64) int {
	b.purge()
	size := len(b.items)
	if size == 0 {
		return 0
	}
	count := 1
	if extraDepth > 0 {
		count += int(extraDepth * float64(size))
	}
	if count > size {
		count = size
	}

	for i := 0; i < count && len(b.items) > 0; i++ {
		if b.cursor == nil {
			b.cursor = b.ring.Front()
		}
		n := b.cursor.Value.(*node[K, V])
		b.cursor = b.cursor.Next()

		f.Reset(n.item.Key(), now)
		b.update(n, f)
		b.stats.Forgets++
	}
	return count
}
