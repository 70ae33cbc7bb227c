// Package budget implements the resource budget carried by every item in a bag.
//
// A Budget is a triple of unit-scaled values:
//   - Priority: the share of processing attention the item gets right now
//   - Durability: the fraction of priority that survives one decay period
//   - Quality: a long-term, context-independent evaluation of the item
//
// All three components stay in [0, 1] after every mutation. A Budget whose
// priority is NaN is "deleted": it is treated as absent by bags, every
// mutation on it is a no-op, and it never passes a threshold test.
//
// Budgets are mutable and are shared by pointer. They are never copied
// implicitly; use Clone when a copy is needed.
//
// Example:
//
//	b, err := budget.New(0.8, 0.5, 0.9)
//	if err != nil {
//		return err
//	}
//	b.Merge(budget.Plus, other)
//	b.Decay(now, 10, 0.01)
//	fmt.Println(b) // $0.8000;0.5000;0.9000$
//
// Thread Safety:
//
//	Budget is not safe for concurrent mutation. Bags and the cycle scheduler
//	own the budgets they hold and mutate them from a single goroutine.
package budget

import (
	"errors"
	"fmt"
	"math"

	"github.com/orneryd/attend/pkg/decay"
)

// Never is the LastDecay value of a budget that has never been decayed.
const Never int64 = math.MinInt64

// DefaultEpsilon is the precision used by EqualsByPrecision callers that do
// not need a custom tolerance.
const DefaultEpsilon = 0.0001

// ErrInvalidBudget is returned when a budget is built from NaN components.
var ErrInvalidBudget = errors.New("invalid budget")

// Budget is a mutable (priority, durability, quality) triple.
//
// The zero value is a valid all-zero budget that has never been decayed.
type Budget struct {
	priority   float64
	durability float64
	quality    float64

	lastDecay int64
	decayed   bool
}

// New creates a budget, clamping each component to [0, 1].
//
// Infinite values collapse to the nearest bound. NaN in any component is a
// precondition violation and returns ErrInvalidBudget: NaN priority is the
// deleted encoding and must never come out of a constructor.
func New(priority, durability, quality float64) (*Budget, error) {
	if math.IsNaN(priority) || math.IsNaN(durability) || math.IsNaN(quality) {
		return nil, fmt.Errorf("%w: NaN component in (%v, %v, %v)", ErrInvalidBudget, priority, durability, quality)
	}
	return &Budget{
		priority:   clamp(priority),
		durability: clamp(durability),
		quality:    clamp(quality),
	}, nil
}

// MustNew is like New but panics on invalid input.
// Intended for constants and tests.
func MustNew(priority, durability, quality float64) *Budget {
	b, err := New(priority, durability, quality)
	if err != nil {
		panic(err)
	}
	return b
}

// NewFromTruth creates a budget whose quality is derived from a statement's
// truth value (frequency, confidence). See QualityFromTruth.
func NewFromTruth(priority, durability, frequency, confidence float64) (*Budget, error) {
	return New(priority, durability, QualityFromTruth(frequency, confidence))
}

// Deleted returns a fresh budget in the deleted state.
func Deleted() *Budget {
	b := &Budget{}
	b.Delete()
	return b
}

// Priority returns the current priority (NaN when deleted).
func (b *Budget) Priority() float64 { return b.priority }

// Durability returns the current durability.
func (b *Budget) Durability() float64 { return b.durability }

// Quality returns the current quality.
func (b *Budget) Quality() float64 { return b.quality }

// LastDecay returns the tick of the most recent decay, or Never.
func (b *Budget) LastDecay() int64 {
	if !b.decayed {
		return Never
	}
	return b.lastDecay
}

// IsDeleted reports whether the budget carries the deleted sentinel.
func (b *Budget) IsDeleted() bool {
	return math.IsNaN(b.priority)
}

// Delete puts the budget into the deleted state.
func (b *Budget) Delete() {
	b.priority = math.NaN()
	b.durability = 0
	b.quality = 0
}

// Zero sets all components to zero. No-op on a deleted budget.
func (b *Budget) Zero() {
	if b.IsDeleted() {
		return
	}
	b.priority, b.durability, b.quality = 0, 0, 0
}

// SetPriority sets priority, clamped to [0, 1].
//
// Panics with ErrInvalidBudget on NaN: deletion goes through Delete.
// No-op on a deleted budget.
func (b *Budget) SetPriority(p float64) {
	if math.IsNaN(p) {
		panic(fmt.Errorf("%w: NaN priority", ErrInvalidBudget))
	}
	if b.IsDeleted() {
		return
	}
	b.priority = clamp(p)
}

// SetDurability sets durability, clamped to [0, 1] (NaN becomes 0).
func (b *Budget) SetDurability(d float64) {
	if b.IsDeleted() {
		return
	}
	b.durability = clamp(d)
}

// SetQuality sets quality, clamped to [0, 1] (NaN becomes 0).
func (b *Budget) SetQuality(q float64) {
	if b.IsDeleted() {
		return
	}
	b.quality = clamp(q)
}

// Set assigns all three components with the same rules as the setters.
func (b *Budget) Set(priority, durability, quality float64) {
	b.SetPriority(priority)
	b.SetDurability(durability)
	b.SetQuality(quality)
}

// CopyFrom copies the components (not the decay time) of other into b.
func (b *Budget) CopyFrom(other *Budget) {
	if other == nil || other.IsDeleted() {
		return
	}
	b.Set(other.priority, other.durability, other.quality)
}

// Clone returns an independent copy. The decay time is copied only when
// copyLastDecay is true; otherwise the clone has never been decayed.
func (b *Budget) Clone(copyLastDecay bool) *Budget {
	c := &Budget{
		priority:   b.priority,
		durability: b.durability,
		quality:    b.quality,
	}
	if copyLastDecay {
		c.lastDecay, c.decayed = b.lastDecay, b.decayed
	}
	return c
}

// OrPriority raises priority by a share of the remaining range.
func (b *Budget) OrPriority(v float64) { b.SetPriority(Or(b.priority, v)) }

// AndPriority multiplies priority by v.
func (b *Budget) AndPriority(v float64) { b.SetPriority(And(b.priority, v)) }

// MulPriority scales priority by factor, clamped.
func (b *Budget) MulPriority(factor float64) { b.SetPriority(b.priority * factor) }

// OrDurability raises durability by a share of the remaining range.
func (b *Budget) OrDurability(v float64) { b.SetDurability(Or(b.durability, v)) }

// AndDurability multiplies durability by v.
func (b *Budget) AndDurability(v float64) { b.SetDurability(And(b.durability, v)) }

// OrQuality raises quality by a share of the remaining range.
func (b *Budget) OrQuality(v float64) { b.SetQuality(Or(b.quality, v)) }

// AndQuality multiplies quality by v.
func (b *Budget) AndQuality(v float64) { b.SetQuality(And(b.quality, v)) }

// Summary is the geometric mean of the three components. Deleted budgets
// summarize to 0.
func (b *Budget) Summary() float64 {
	if b.IsDeleted() {
		return 0
	}
	return AveGeo(b.priority, b.durability, b.quality)
}

// IsAboveThreshold reports whether Summary() >= threshold.
// A deleted budget is always below threshold; a threshold <= 0 always passes.
func (b *Budget) IsAboveThreshold(threshold float64) bool {
	if b.IsDeleted() {
		return false
	}
	if threshold <= 0 {
		return true
	}
	return b.Summary() >= threshold
}

// EqualsByPrecision compares components within epsilon. Decay time is ignored.
func (b *Budget) EqualsByPrecision(other *Budget, epsilon float64) bool {
	if other == nil {
		return false
	}
	if b.IsDeleted() || other.IsDeleted() {
		return b.IsDeleted() == other.IsDeleted()
	}
	return math.Abs(b.priority-other.priority) <= epsilon &&
		math.Abs(b.durability-other.durability) <= epsilon &&
		math.Abs(b.quality-other.quality) <= epsilon
}

// SetLastDecay records now as the decay time and returns the ticks elapsed
// since the previous one (0 if the budget was never decayed). A now older
// than the recorded time is ignored and reports 0.
func (b *Budget) SetLastDecay(now int64) int64 {
	if !b.decayed {
		b.lastDecay, b.decayed = now, true
		return 0
	}
	if now <= b.lastDecay {
		return 0
	}
	elapsed := now - b.lastDecay
	b.lastDecay = now
	return elapsed
}

// Decay ages priority with the default curve. See DecayWith.
func (b *Budget) Decay(now int64, period, minRetained float64) float64 {
	return b.DecayWith(decay.Default, now, period, minRetained)
}

// DecayWith advances the decay time to now and reduces priority by the
// curve over (now - previous) / period elapsed periods.
//
// The first call on a budget only records the time. A second call at the
// same tick changes nothing. Priority never drops below minRetained through
// decay, and a priority already below it is left alone. A period <= 0 is
// treated as 1 tick. Returns the resulting priority.
func (b *Budget) DecayWith(curve decay.Curve, now int64, period, minRetained float64) float64 {
	if b.IsDeleted() {
		return b.priority
	}
	elapsed := b.SetLastDecay(now)
	if elapsed <= 0 {
		return b.priority
	}
	if period <= 0 {
		period = 1
	}
	if curve == nil {
		curve = decay.Default
	}
	b.priority = clamp(curve.Apply(b.priority, b.durability, minRetained, float64(elapsed)/period))
	return b.priority
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
