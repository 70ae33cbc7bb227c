// Package config holds the attention allocator's configuration.
//
// Configuration comes from three layers, later ones winning:
//  1. Built-in defaults (Default)
//  2. An optional YAML file (Load with a path)
//  3. ATTEND_* environment variables
//
// Example Usage:
//
//	cfg, err := config.Load("attend.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	fmt.Println(cfg) // safe one-line summary
//
// Environment Variables:
//
// Memory:
//   - ATTEND_CONCEPT_CAPACITY=1000
//   - ATTEND_PENDING_CAPACITY=100
//   - ATTEND_TASK_LINK_CAPACITY=20
//   - ATTEND_TERM_LINK_CAPACITY=50
//   - ATTEND_CONCEPTS_PER_CYCLE=1
//   - ATTEND_DURATION=5
//   - ATTEND_CONCEPT_FORGET_DURATIONS=2.0
//   - ATTEND_TASK_FORGET_DURATIONS=4.0
//   - ATTEND_FORGET_EXTRA_DEPTH=0.1
//   - ATTEND_MIN_FORGETTABLE_PRIORITY=0.01
//   - ATTEND_DECAY_CURVE="exponential" or "linear"
//   - ATTEND_BUDGET_THRESHOLD=0.01
//   - ATTEND_MERGE_POLICY="plus", "average" or "max"
//   - ATTEND_SELECTION="highest" or "sample"
//   - ATTEND_SEED=0 (0 = seeded from the clock)
//
// Input:
//   - ATTEND_INBOX_SIZE=1024
//   - ATTEND_INPUT_RATE=0 (per second, 0 = unlimited)
//   - ATTEND_INPUT_BURST=64
//   - ATTEND_DUPLICATE_WINDOW=0 (ticks, 0 = off)
//   - ATTEND_REPEAT_PROBABILITY=0
//
// Archive:
//   - ATTEND_ARCHIVE_ENABLED=false
//   - ATTEND_ARCHIVE_DIR="./data/archive"
//   - ATTEND_ARCHIVE_IN_MEMORY=false
//   - ATTEND_ARCHIVE_SYNC_WRITES=false
//
// Server, logging, cycle:
//   - ATTEND_HTTP_ENABLED=false
//   - ATTEND_HTTP_ADDRESS="127.0.0.1:7480"
//   - ATTEND_LOG_LEVEL="info"
//   - ATTEND_LOG_FORMAT="json" or "console"
//   - ATTEND_LOG_OUTPUT="stderr", "stdout" or a file path
//   - ATTEND_TICK_INTERVAL=10ms
//   - ATTEND_MAX_TICKS=0 (0 = run until stopped)
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/orneryd/attend/pkg/budget"
	"github.com/orneryd/attend/pkg/decay"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration.
//
// Configuration is organized into logical sections:
//   - Memory: bag capacities, firing rate and forgetting
//   - Input: inbox, rate limiting and duplicate suppression
//   - Archive: persistence of evicted concepts
//   - Server: optional HTTP surface
//   - Logging: logger construction
//   - Cycle: tick pacing
type Config struct {
	Memory  MemoryConfig  `mapstructure:"memory" yaml:"memory"`
	Input   InputConfig   `mapstructure:"input" yaml:"input"`
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Cycle   CycleConfig   `mapstructure:"cycle" yaml:"cycle"`
}

// MemoryConfig sizes the bags and tunes forgetting.
type MemoryConfig struct {
	// ConceptCapacity is the concept bag's fixed capacity.
	ConceptCapacity int `mapstructure:"concept_capacity" yaml:"concept_capacity"`

	// PendingCapacity is the pending-task bag's fixed capacity.
	PendingCapacity int `mapstructure:"pending_capacity" yaml:"pending_capacity"`

	// TaskLinkCapacity bounds each concept's bag of recent tasks.
	TaskLinkCapacity int `mapstructure:"task_link_capacity" yaml:"task_link_capacity"`

	// TermLinkCapacity bounds each concept's bag of structural links.
	TermLinkCapacity int `mapstructure:"term_link_capacity" yaml:"term_link_capacity"`

	// ConceptsPerCycle is how many concepts fire per tick. It is also the
	// busyness limit for new tasks.
	ConceptsPerCycle int `mapstructure:"concepts_per_cycle" yaml:"concepts_per_cycle"`

	// Duration is the number of ticks in one system duration.
	Duration int `mapstructure:"duration" yaml:"duration"`

	// ConceptForgetDurations is the concept decay period in durations.
	ConceptForgetDurations float64 `mapstructure:"concept_forget_durations" yaml:"concept_forget_durations"`

	// TaskForgetDurations is the task-link decay period in durations.
	TaskForgetDurations float64 `mapstructure:"task_forget_durations" yaml:"task_forget_durations"`

	// ForgetExtraDepth widens ForgetNext to 1 + depth×size items per tick.
	ForgetExtraDepth float64 `mapstructure:"forget_extra_depth" yaml:"forget_extra_depth"`

	// MinForgettablePriority is the floor decay never crosses.
	MinForgettablePriority float64 `mapstructure:"min_forgettable_priority" yaml:"min_forgettable_priority"`

	// DecayCurve names the decay curve ("exponential" or "linear").
	DecayCurve string `mapstructure:"decay_curve" yaml:"decay_curve"`

	// BudgetThreshold is the minimum budget summary for a task to be kept.
	BudgetThreshold float64 `mapstructure:"budget_threshold" yaml:"budget_threshold"`

	// MergePolicy names how a repeated task merges into a resident one.
	MergePolicy string `mapstructure:"merge_policy" yaml:"merge_policy"`

	// Selection names how concepts are picked to fire: "highest" takes the
	// top ConceptsPerCycle by rank, "sample" draws them weighted by rank.
	Selection string `mapstructure:"selection" yaml:"selection"`

	// Seed fixes the sampling sequence. 0 seeds from the clock.
	Seed uint64 `mapstructure:"seed" yaml:"seed"`
}

// Concept selection modes.
const (
	SelectionHighest = "highest"
	SelectionSample  = "sample"
)

// InputConfig controls how external inputs enter the scheduler.
type InputConfig struct {
	// InboxSize bounds the queue between producers and the scheduler.
	InboxSize int `mapstructure:"inbox_size" yaml:"inbox_size"`

	// Rate limits submissions per second (0 = unlimited).
	Rate float64 `mapstructure:"rate" yaml:"rate"`

	// Burst is the rate limiter's bucket size.
	Burst int `mapstructure:"burst" yaml:"burst"`

	// DuplicateWindow drops identical inputs seen within this many ticks
	// (0 = off).
	DuplicateWindow int64 `mapstructure:"duplicate_window" yaml:"duplicate_window"`

	// RepeatProbability lets a share of duplicates through anyway.
	RepeatProbability float64 `mapstructure:"repeat_probability" yaml:"repeat_probability"`

	// NoveltySize bounds the duplicate filter's memory.
	NoveltySize int `mapstructure:"novelty_size" yaml:"novelty_size"`
}

// ArchiveConfig controls persistence of evicted concepts.
type ArchiveConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	DataDir    string `mapstructure:"data_dir" yaml:"data_dir"`
	InMemory   bool   `mapstructure:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// Format is json or console.
	Format string `mapstructure:"format" yaml:"format"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// CycleConfig paces the scheduler.
type CycleConfig struct {
	// TickInterval is the wall-clock pause between ticks (0 = back to back).
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`

	// MaxTicks stops the run after this many ticks (0 = until stopped).
	MaxTicks int64 `mapstructure:"max_ticks" yaml:"max_ticks"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Memory: MemoryConfig{
			ConceptCapacity:        1000,
			PendingCapacity:        100,
			TaskLinkCapacity:       20,
			TermLinkCapacity:       50,
			ConceptsPerCycle:       1,
			Duration:               5,
			ConceptForgetDurations: 2.0,
			TaskForgetDurations:    4.0,
			ForgetExtraDepth:       0.1,
			MinForgettablePriority: 0.01,
			DecayCurve:             decay.NameExponential,
			BudgetThreshold:        0.01,
			MergePolicy:            budget.Plus.String(),
			Selection:              SelectionHighest,
		},
		Input: InputConfig{
			InboxSize:   1024,
			Burst:       64,
			NoveltySize: 4096,
		},
		Archive: ArchiveConfig{
			DataDir: "./data/archive",
		},
		Server: ServerConfig{
			Address: "127.0.0.1:7480",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Cycle: CycleConfig{
			TickInterval: 10 * time.Millisecond,
		},
	}
}

// Load builds a configuration from defaults, the YAML file at path (skipped
// when path is empty) and ATTEND_* environment variables, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv is Load without a file.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// applyEnv overrides fields from ATTEND_* variables. Unset or unparsable
// variables keep the current value.
func (c *Config) applyEnv() {
	m := &c.Memory
	m.ConceptCapacity = getEnvInt("ATTEND_CONCEPT_CAPACITY", m.ConceptCapacity)
	m.PendingCapacity = getEnvInt("ATTEND_PENDING_CAPACITY", m.PendingCapacity)
	m.TaskLinkCapacity = getEnvInt("ATTEND_TASK_LINK_CAPACITY", m.TaskLinkCapacity)
	m.TermLinkCapacity = getEnvInt("ATTEND_TERM_LINK_CAPACITY", m.TermLinkCapacity)
	m.ConceptsPerCycle = getEnvInt("ATTEND_CONCEPTS_PER_CYCLE", m.ConceptsPerCycle)
	m.Duration = getEnvInt("ATTEND_DURATION", m.Duration)
	m.ConceptForgetDurations = getEnvFloat("ATTEND_CONCEPT_FORGET_DURATIONS", m.ConceptForgetDurations)
	m.TaskForgetDurations = getEnvFloat("ATTEND_TASK_FORGET_DURATIONS", m.TaskForgetDurations)
	m.ForgetExtraDepth = getEnvFloat("ATTEND_FORGET_EXTRA_DEPTH", m.ForgetExtraDepth)
	m.MinForgettablePriority = getEnvFloat("ATTEND_MIN_FORGETTABLE_PRIORITY", m.MinForgettablePriority)
	m.DecayCurve = getEnv("ATTEND_DECAY_CURVE", m.DecayCurve)
	m.BudgetThreshold = getEnvFloat("ATTEND_BUDGET_THRESHOLD", m.BudgetThreshold)
	m.MergePolicy = getEnv("ATTEND_MERGE_POLICY", m.MergePolicy)
	m.Selection = getEnv("ATTEND_SELECTION", m.Selection)
	m.Seed = getEnvUint64("ATTEND_SEED", m.Seed)

	in := &c.Input
	in.InboxSize = getEnvInt("ATTEND_INBOX_SIZE", in.InboxSize)
	in.Rate = getEnvFloat("ATTEND_INPUT_RATE", in.Rate)
	in.Burst = getEnvInt("ATTEND_INPUT_BURST", in.Burst)
	in.DuplicateWindow = int64(getEnvInt("ATTEND_DUPLICATE_WINDOW", int(in.DuplicateWindow)))
	in.RepeatProbability = getEnvFloat("ATTEND_REPEAT_PROBABILITY", in.RepeatProbability)
	in.NoveltySize = getEnvInt("ATTEND_NOVELTY_SIZE", in.NoveltySize)

	a := &c.Archive
	a.Enabled = getEnvBool("ATTEND_ARCHIVE_ENABLED", a.Enabled)
	a.DataDir = getEnv("ATTEND_ARCHIVE_DIR", a.DataDir)
	a.InMemory = getEnvBool("ATTEND_ARCHIVE_IN_MEMORY", a.InMemory)
	a.SyncWrites = getEnvBool("ATTEND_ARCHIVE_SYNC_WRITES", a.SyncWrites)

	c.Server.Enabled = getEnvBool("ATTEND_HTTP_ENABLED", c.Server.Enabled)
	c.Server.Address = getEnv("ATTEND_HTTP_ADDRESS", c.Server.Address)

	c.Logging.Level = getEnv("ATTEND_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("ATTEND_LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnv("ATTEND_LOG_OUTPUT", c.Logging.Output)

	c.Cycle.TickInterval = getEnvDuration("ATTEND_TICK_INTERVAL", c.Cycle.TickInterval)
	c.Cycle.MaxTicks = int64(getEnvInt("ATTEND_MAX_TICKS", int(c.Cycle.MaxTicks)))
}

// Validate checks the configuration for errors.
//
// Returns nil if configuration is valid, or an error wrapping ErrInvalid
// describing the first problem found.
func (c *Config) Validate() error {
	m := c.Memory
	if m.ConceptCapacity <= 0 {
		return fmt.Errorf("%w: concept capacity must be positive, got %d", ErrInvalid, m.ConceptCapacity)
	}
	if m.PendingCapacity <= 0 {
		return fmt.Errorf("%w: pending capacity must be positive, got %d", ErrInvalid, m.PendingCapacity)
	}
	if m.TaskLinkCapacity <= 0 || m.TermLinkCapacity <= 0 {
		return fmt.Errorf("%w: link capacities must be positive", ErrInvalid)
	}
	if m.ConceptsPerCycle <= 0 {
		return fmt.Errorf("%w: concepts per cycle must be positive, got %d", ErrInvalid, m.ConceptsPerCycle)
	}
	if m.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %d", ErrInvalid, m.Duration)
	}
	if m.ConceptForgetDurations <= 0 || m.TaskForgetDurations <= 0 {
		return fmt.Errorf("%w: forget durations must be positive", ErrInvalid)
	}
	if m.ForgetExtraDepth < 0 {
		return fmt.Errorf("%w: forget extra depth must not be negative, got %v", ErrInvalid, m.ForgetExtraDepth)
	}
	if !unit(m.MinForgettablePriority) {
		return fmt.Errorf("%w: min forgettable priority must be in [0,1], got %v", ErrInvalid, m.MinForgettablePriority)
	}
	if !unit(m.BudgetThreshold) {
		return fmt.Errorf("%w: budget threshold must be in [0,1], got %v", ErrInvalid, m.BudgetThreshold)
	}
	if _, err := decay.Parse(m.DecayCurve); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := budget.ParseMergePolicy(m.MergePolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch m.Selection {
	case SelectionHighest, SelectionSample:
	default:
		return fmt.Errorf("%w: unknown selection %q", ErrInvalid, m.Selection)
	}

	in := c.Input
	if in.InboxSize <= 0 {
		return fmt.Errorf("%w: inbox size must be positive, got %d", ErrInvalid, in.InboxSize)
	}
	if in.Rate < 0 {
		return fmt.Errorf("%w: input rate must not be negative, got %v", ErrInvalid, in.Rate)
	}
	if in.Rate > 0 && in.Burst <= 0 {
		return fmt.Errorf("%w: input burst must be positive when rate is set", ErrInvalid)
	}
	if in.DuplicateWindow < 0 {
		return fmt.Errorf("%w: duplicate window must not be negative", ErrInvalid)
	}
	if !unit(in.RepeatProbability) {
		return fmt.Errorf("%w: repeat probability must be in [0,1], got %v", ErrInvalid, in.RepeatProbability)
	}

	if c.Archive.Enabled && !c.Archive.InMemory && c.Archive.DataDir == "" {
		return fmt.Errorf("%w: archive enabled without a data dir", ErrInvalid)
	}
	if c.Server.Enabled && c.Server.Address == "" {
		return fmt.Errorf("%w: http enabled without an address", ErrInvalid)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Logging.Format)
	}
	if c.Cycle.TickInterval < 0 {
		return fmt.Errorf("%w: tick interval must not be negative", ErrInvalid)
	}
	if c.Cycle.MaxTicks < 0 {
		return fmt.Errorf("%w: max ticks must not be negative", ErrInvalid)
	}
	return nil
}

// Curve returns the configured decay curve. Call after Validate.
func (c *Config) Curve() decay.Curve {
	curve, err := decay.Parse(c.Memory.DecayCurve)
	if err != nil {
		return decay.Default
	}
	return curve
}

// Merge returns the configured merge policy. Call after Validate.
func (c *Config) Merge() budget.MergePolicy {
	p, err := budget.ParseMergePolicy(c.Memory.MergePolicy)
	if err != nil {
		return budget.Plus
	}
	return p
}

// WriteFile writes cfg as YAML to path, creating parent directories.
func WriteFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	archive := "off"
	if c.Archive.Enabled {
		archive = c.Archive.DataDir
		if c.Archive.InMemory {
			archive = "memory"
		}
	}
	httpAddr := "off"
	if c.Server.Enabled {
		httpAddr = c.Server.Address
	}
	return fmt.Sprintf(
		"Config{Concepts: %d, Pending: %d, PerCycle: %d, Duration: %d, Decay: %s, Archive: %s, HTTP: %s}",
		c.Memory.ConceptCapacity, c.Memory.PendingCapacity, c.Memory.ConceptsPerCycle,
		c.Memory.Duration, c.Memory.DecayCurve, archive, httpAddr,
	)
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUint64(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as milliseconds
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
