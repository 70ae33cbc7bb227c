// Package decay implements the forgetting curves used to age item priority.
//
// Every budgeted item loses priority as ticks pass without it being
// re-activated. How fast it loses priority depends on two things:
//   - Durability: the fraction of the priority above the floor that survives
//     one full decay period (1.0 = never forgets, 0.0 = forgets at once)
//   - Elapsed periods: ticks since the previous decay divided by the decay period
//
// The shape of the curve is a tunable parameter rather than a fixed formula.
// Two curves are provided:
//   - Exponential: the excess over the floor is multiplied by durability once
//     per period (fast at first, then slower)
//   - Linear: the excess over the floor shrinks by a constant amount per period
//     until it reaches the floor
//
// Both curves are monotone: for a fixed budget, more elapsed periods never
// yield a higher priority, and zero elapsed periods leave priority unchanged.
//
// Example Usage:
//
//	curve, err := decay.Parse("exponential")
//	if err != nil {
//		return err
//	}
//
//	// 0.9 priority, 0.5 durability, floor 0.01, one full period elapsed
//	p := curve.Apply(0.9, 0.5, 0.01, 1.0)
//	fmt.Printf("%.3f\n", p) // 0.455
//
// ELI12:
//
// Think of priority as the water level in a leaky bucket with a little ledge
// near the bottom. Durability is how good the bucket is: a great bucket keeps
// most of its water each hour, a bad one keeps almost none. The water never
// drains below the ledge (the floor), so nothing is forgotten completely just
// by sitting still.
package decay

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Curve maps a priority to its decayed value.
//
// Parameters passed to Apply:
//   - priority: current priority in [0, 1]
//   - durability: fraction retained per period in [0, 1]
//   - floor: minimum priority the curve may decay to
//   - periods: elapsed ticks divided by the decay period (>= 0)
//
// Implementations must return a value in [min(priority, floor), priority].
type Curve interface {
	Name() string
	Apply(priority, durability, floor, periods float64) float64
}

// Curve names accepted by Parse.
const (
	NameExponential = "exponential"
	NameLinear      = "linear"
)

var (
	// Exponential decays the excess over the floor geometrically:
	//
	//	p' = floor + (p - floor) × durability^periods
	Exponential Curve = exponential{}

	// Linear decays the excess over the floor by a constant step per period:
	//
	//	p' = max(floor, p - (p - floor) × (1 - durability) × periods)
	Linear Curve = linear{}
)

var curves = map[string]Curve{
	NameExponential: Exponential,
	NameLinear:      Linear,
}

// Default is the curve used when none is configured.
var Default = Exponential

// Parse looks up a curve by name (case-insensitive).
//
// Example:
//
//	curve, err := decay.Parse(cfg.Memory.DecayCurve)
//	if err != nil {
//		return fmt.Errorf("memory config: %w", err)
//	}
func Parse(name string) (Curve, error) {
	c, ok := curves[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown decay curve %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names returns the registered curve names in sorted order.
func Names() []string {
	names := make([]string, 0, len(curves))
	for n := range curves {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type exponential struct{}

func (exponential) Name() string { return NameExponential }

func (exponential) Apply(priority, durability, floor, periods float64) float64 {
	floor, ok := prepare(priority, floor, periods)
	if !ok {
		return priority
	}
	d := clampUnit(durability)
	if d == 1 {
		return priority
	}
	return floor + (priority-floor)*math.Pow(d, periods)
}

type linear struct{}

func (linear) Name() string { return NameLinear }

func (linear) Apply(priority, durability, floor, periods float64) float64 {
	floor, ok := prepare(priority, floor, periods)
	if !ok {
		return priority
	}
	step := (priority - floor) * (1 - clampUnit(durability)) * periods
	return math.Max(floor, priority-step)
}

// prepare normalizes the floor and reports whether any decay should happen.
// A priority at or below the floor is never raised.
func prepare(priority, floor, periods float64) (float64, bool) {
	if periods <= 0 || math.IsNaN(periods) || math.IsNaN(priority) {
		return floor, false
	}
	floor = clampUnit(floor)
	if priority <= floor {
		return floor, false
	}
	return floor, true
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// HalfLife returns how many decay periods the exponential curve needs to
// halve the excess over the floor at the given durability.
//
// Returns +Inf for durability 1 (never forgets) and 0 for durability 0.
//
// Example:
//
//	decay.HalfLife(0.5)  // 1
//	decay.HalfLife(0.9)  // ~6.58
func HalfLife(durability float64) float64 {
	d := clampUnit(durability)
	switch d {
	case 1:
		return math.Inf(1)
	case 0:
		return 0
	}
	return math.Log(0.5) / math.Log(d)
}
