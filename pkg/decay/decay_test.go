package decay

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("known names", func(t *testing.T) {
		c, err := Parse("exponential")
		require.NoError(t, err)
		assert.Equal(t, NameExponential, c.Name())

		c, err = Parse("  LINEAR ")
		require.NoError(t, err)
		assert.Equal(t, NameLinear, c.Name())
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := Parse("cubic")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exponential")
	})

	t.Run("names sorted", func(t *testing.T) {
		assert.Equal(t, []string{"exponential", "linear"}, Names())
	})
}

func TestCurves(t *testing.T) {
	for _, c := range []Curve{Exponential, Linear} {
		t.Run(c.Name(), func(t *testing.T) {
			t.Run("zero periods is a no-op", func(t *testing.T) {
				assert.Equal(t, 0.9, c.Apply(0.9, 0.5, 0.01, 0))
			})

			t.Run("one period strictly decreases", func(t *testing.T) {
				assert.Less(t, c.Apply(0.9, 0.5, 0.01, 1), 0.9)
			})

			t.Run("monotone in periods", func(t *testing.T) {
				prev := 0.9
				for periods := 0.25; periods <= 20; periods += 0.25 {
					p := c.Apply(0.9, 0.7, 0.05, periods)
					assert.LessOrEqual(t, p, prev)
					assert.GreaterOrEqual(t, p, 0.05)
					prev = p
				}
			})

			t.Run("never raises a priority below the floor", func(t *testing.T) {
				assert.Equal(t, 0.02, c.Apply(0.02, 0.5, 0.1, 3))
			})

			t.Run("full durability never forgets", func(t *testing.T) {
				assert.Equal(t, 0.6, c.Apply(0.6, 1.0, 0, 100))
			})

			t.Run("NaN periods ignored", func(t *testing.T) {
				assert.Equal(t, 0.6, c.Apply(0.6, 0.5, 0, math.NaN()))
			})
		})
	}
}

func TestExponentialValues(t *testing.T) {
	assert.InDelta(t, 0.455, Exponential.Apply(0.9, 0.5, 0.01, 1), 1e-9)
	assert.InDelta(t, 0.2325, Exponential.Apply(0.9, 0.5, 0.01, 2), 1e-9)
}

func TestLinearReachesFloor(t *testing.T) {
	assert.InDelta(t, 0.5, Linear.Apply(0.9, 0.5, 0.1, 1), 1e-9)
	assert.Equal(t, 0.1, Linear.Apply(0.9, 0.5, 0.1, 10))
}

func TestHalfLife(t *testing.T) {
	assert.Equal(t, 1.0, HalfLife(0.5))
	assert.True(t, math.IsInf(HalfLife(1), 1))
	assert.Equal(t, 0.0, HalfLife(0))
	assert.InDelta(t, 6.5788, HalfLife(0.9), 1e-3)
}
