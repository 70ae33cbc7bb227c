// Package pool provides reusable scratch slices for the cycle scheduler.
//
// Every tick the scheduler collects the tasks it selects, the tasks the
// deriver produces and the items it trims. Reusing those slices across ticks
// keeps the steady-state loop allocation-free.
//
// Usage:
//
//	var tasks = pool.NewSlices[*cycle.Task](64)
//
//	buf := tasks.Get()
//	defer tasks.Put(buf)
//	buf = append(buf, t)
package pool

import (
	"sync"
)

// PoolConfig configures pooling behavior for every pool in the process.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize limits the capacity of a slice that may be returned to a pool
	MaxSize int
}

var (
	configMu     sync.RWMutex
	globalConfig = PoolConfig{
		Enabled: true,
		MaxSize: 4096,
	}
)

// Configure sets global pool configuration.
// Should be called early during initialization.
func Configure(config PoolConfig) {
	configMu.Lock()
	globalConfig = config
	configMu.Unlock()
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig.Enabled
}

func current() PoolConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Slices is a pool of []T scratch slices.
type Slices[T any] struct {
	initialCap int
	pool       sync.Pool
}

// NewSlices creates a pool whose fresh slices have capacity initialCap.
func NewSlices[T any](initialCap int) *Slices[T] {
	if initialCap <= 0 {
		initialCap = 16
	}
	s := &Slices[T]{initialCap: initialCap}
	s.pool.New = func() any {
		buf := make([]T, 0, initialCap)
		return &buf
	}
	return s
}

// Get returns an empty slice, reused when possible.
// Call Put when done.
func (s *Slices[T]) Get() []T {
	if !IsEnabled() {
		return make([]T, 0, s.initialCap)
	}
	return (*s.pool.Get().(*[]T))[:0]
}

// Put returns a slice to the pool. Elements are zeroed first so pooled
// slices do not keep items alive. Oversized slices are dropped.
func (s *Slices[T]) Put(buf []T) {
	cfg := current()
	if !cfg.Enabled || buf == nil {
		return
	}
	if cap(buf) > cfg.MaxSize {
		return
	}
	clear(buf[:cap(buf)])
	buf = buf[:0]
	s.pool.Put(&buf)
}
