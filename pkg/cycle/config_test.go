package cycle

import (
	"testing"
	"time"

	"github.com/orneryd/attend/pkg/budget"
	"github.com/orneryd/attend/pkg/config"
	"github.com/orneryd/attend/pkg/decay"
	"github.com/stretchr/testify/assert"
)

func TestConfigFrom(t *testing.T) {
	c := config.Default()
	c.Memory.ConceptCapacity = 64
	c.Memory.ConceptsPerCycle = 3
	c.Memory.Duration = 4
	c.Memory.DecayCurve = decay.NameLinear
	c.Memory.MergePolicy = "max"
	c.Cycle.TickInterval = time.Second
	c.Cycle.MaxTicks = 9

	got := ConfigFrom(c)
	assert.Equal(t, 64, got.ConceptCapacity)
	assert.Equal(t, 3, got.ConceptsPerCycle)
	assert.Equal(t, decay.Linear, got.Curve)
	assert.Equal(t, budget.Max, got.Merge)
	assert.Equal(t, time.Second, got.TickInterval)
	assert.Equal(t, int64(9), got.MaxTicks)
	assert.Equal(t, 12, got.pendingLimit())
	assert.Equal(t, 2.0*4, got.conceptPeriod())
	assert.Equal(t, 4.0*4, got.taskPeriod())
	assert.NoError(t, got.Validate())
}
