package cycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/orneryd/attend/pkg/bag"
	"github.com/orneryd/attend/pkg/budget"
	"github.com/orneryd/attend/pkg/config"
	"github.com/orneryd/attend/pkg/decay"
	"github.com/rs/zerolog"
)

// ErrInvalidConfig wraps scheduler configuration errors.
var ErrInvalidConfig = errors.New("invalid scheduler config")

// Selection is how concepts are picked to fire each tick.
type Selection string

const (
	// SelectionHighest fires the top ConceptsPerCycle concepts by rank.
	SelectionHighest Selection = config.SelectionHighest
	// SelectionSample draws ConceptsPerCycle distinct concepts with
	// probability proportional to rank.
	SelectionSample Selection = config.SelectionSample
)

// Config holds scheduler settings.
type Config struct {
	ConceptCapacity  int
	PendingCapacity  int
	TaskLinkCapacity int
	TermLinkCapacity int

	// ConceptsPerCycle is how many concepts fire per tick, and the busyness
	// limit for firing new tasks.
	ConceptsPerCycle int
	// Duration is the number of ticks in one system duration. Pending tasks
	// are trimmed to ConceptsPerCycle×Duration after every tick.
	Duration int

	ConceptForgetDurations float64
	TaskForgetDurations    float64
	ForgetExtraDepth       float64
	MinForgettablePriority float64
	BudgetThreshold        float64

	Curve decay.Curve
	Merge budget.MergePolicy
	// Policy classifies concepts when they are considered for firing. Nil
	// selects and decays every concept.
	Policy bag.Policy[string, *Concept]

	// Selection picks firing concepts. Empty means SelectionHighest.
	Selection Selection
	// Seed fixes the SelectionSample sequence. 0 seeds from the clock.
	Seed uint64

	// TickInterval paces Run. 0 runs ticks back to back.
	TickInterval time.Duration
	// MaxTicks stops Run after this many ticks. 0 runs until stopped.
	MaxTicks int64

	Logger zerolog.Logger
}

// DefaultConfig returns scheduler defaults matching config.Default.
func DefaultConfig() Config {
	return ConfigFrom(config.Default())
}

// ConfigFrom maps the process configuration onto scheduler settings. The
// logger is left as a no-op logger.
func ConfigFrom(c *config.Config) Config {
	m := c.Memory
	return Config{
		ConceptCapacity:        m.ConceptCapacity,
		PendingCapacity:        m.PendingCapacity,
		TaskLinkCapacity:       m.TaskLinkCapacity,
		TermLinkCapacity:       m.TermLinkCapacity,
		ConceptsPerCycle:       m.ConceptsPerCycle,
		Duration:               m.Duration,
		ConceptForgetDurations: m.ConceptForgetDurations,
		TaskForgetDurations:    m.TaskForgetDurations,
		ForgetExtraDepth:       m.ForgetExtraDepth,
		MinForgettablePriority: m.MinForgettablePriority,
		BudgetThreshold:        m.BudgetThreshold,
		Curve:                  c.Curve(),
		Merge:                  c.Merge(),
		Selection:              Selection(m.Selection),
		Seed:                   m.Seed,
		TickInterval:           c.Cycle.TickInterval,
		MaxTicks:               c.Cycle.MaxTicks,
		Logger:                 zerolog.Nop(),
	}
}

// Validate checks the settings. The scheduler refuses to start with an
// invalid configuration rather than failing mid-tick.
func (c Config) Validate() error {
	switch {
	case c.ConceptCapacity <= 0, c.PendingCapacity <= 0, c.TaskLinkCapacity <= 0, c.TermLinkCapacity <= 0:
		return fmt.Errorf("%w: capacities must be positive", ErrInvalidConfig)
	case c.ConceptsPerCycle <= 0:
		return fmt.Errorf("%w: concepts per cycle must be positive, got %d", ErrInvalidConfig, c.ConceptsPerCycle)
	case c.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive, got %d", ErrInvalidConfig, c.Duration)
	case c.ConceptForgetDurations <= 0, c.TaskForgetDurations <= 0:
		return fmt.Errorf("%w: forget durations must be positive", ErrInvalidConfig)
	case c.ForgetExtraDepth < 0:
		return fmt.Errorf("%w: extra forget depth must not be negative", ErrInvalidConfig)
	case c.MinForgettablePriority < 0 || c.MinForgettablePriority > 1:
		return fmt.Errorf("%w: min forgettable priority out of [0,1]", ErrInvalidConfig)
	case c.BudgetThreshold < 0 || c.BudgetThreshold > 1:
		return fmt.Errorf("%w: budget threshold out of [0,1]", ErrInvalidConfig)
	case c.Merge != budget.Plus && c.Merge != budget.Average && c.Merge != budget.Max:
		return fmt.Errorf("%w: unknown merge policy %d", ErrInvalidConfig, int(c.Merge))
	case c.Selection != "" && c.Selection != SelectionHighest && c.Selection != SelectionSample:
		return fmt.Errorf("%w: unknown selection %q", ErrInvalidConfig, string(c.Selection))
	case c.TickInterval < 0 || c.MaxTicks < 0:
		return fmt.Errorf("%w: tick interval and max ticks must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) conceptPeriod() float64 {
	return c.ConceptForgetDurations * float64(c.Duration)
}

func (c Config) taskPeriod() float64 {
	return c.TaskForgetDurations * float64(c.Duration)
}

func (c Config) pendingLimit() int {
	return c.ConceptsPerCycle * c.Duration
}
