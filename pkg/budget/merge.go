package budget

import (
	"fmt"
	"math"
	"strings"
)

// MergePolicy selects how Merge combines another budget into the receiver.
type MergePolicy int

const (
	// Plus adds priorities (clamped at 1) and blends durability and quality
	// weighted by each side's priority.
	Plus MergePolicy = iota

	// Average moves priority to the mean of both sides and interpolates
	// durability and quality toward the other side by how far priority moved.
	Average

	// Max takes the componentwise maximum.
	Max
)

var mergePolicyNames = map[MergePolicy]string{
	Plus:    "plus",
	Average: "average",
	Max:     "max",
}

func (m MergePolicy) String() string {
	if n, ok := mergePolicyNames[m]; ok {
		return n
	}
	return fmt.Sprintf("MergePolicy(%d)", int(m))
}

// ParseMergePolicy reads a policy name as produced by String.
func ParseMergePolicy(s string) (MergePolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, n := range mergePolicyNames {
		if n == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown merge policy %q", s)
}

// Merge combines other into b in place using policy. If either side is
// deleted, or other is nil, nothing changes. Unknown policies panic: they are
// a programming error, not a data condition.
func (b *Budget) Merge(policy MergePolicy, other *Budget) {
	switch policy {
	case Plus:
		b.MergePlus(other)
	case Average:
		b.MergeAverage(other)
	case Max:
		b.MergeMax(other)
	default:
		panic(fmt.Sprintf("budget: unknown merge policy %d", int(policy)))
	}
}

// MergePlus adds other's priority to b (clamped at 1). Durability and quality
// become the priority-weighted mean of both sides, or the plain mean when
// both priorities are zero.
func (b *Budget) MergePlus(other *Budget) {
	if !mergeable(b, other) {
		return
	}
	p0, op := b.priority, other.priority
	total := p0 + op
	if total > 0 {
		b.durability = clamp((b.durability*p0 + other.durability*op) / total)
		b.quality = clamp((b.quality*p0 + other.quality*op) / total)
	} else {
		b.durability = clamp((b.durability + other.durability) / 2)
		b.quality = clamp((b.quality + other.quality) / 2)
	}
	b.priority = clamp(total)
}

// MergeAverage sets priority to the mean of both sides and interpolates
// durability and quality toward other by |other.priority - b.priority|, so an
// incoming budget that barely moves priority barely moves the rest.
func (b *Budget) MergeAverage(other *Budget) {
	if !mergeable(b, other) {
		return
	}
	influence := clamp(math.Abs(other.priority - b.priority))
	b.priority = clamp((b.priority + other.priority) / 2)
	b.durability = clamp(Lerp(b.durability, other.durability, influence))
	b.quality = clamp(Lerp(b.quality, other.quality, influence))
}

// MergeMax keeps the larger value of each component.
func (b *Budget) MergeMax(other *Budget) {
	if !mergeable(b, other) {
		return
	}
	b.priority = math.Max(b.priority, other.priority)
	b.durability = math.Max(b.durability, other.durability)
	b.quality = math.Max(b.quality, other.quality)
}

func mergeable(b, other *Budget) bool {
	return other != nil && b != other && !b.IsDeleted() && !other.IsDeleted()
}
