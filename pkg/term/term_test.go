package term

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	in := NewInterner()
	bird, flies, fish := in.Atom("bird"), in.Atom("flies"), in.Atom("fish")

	tests := []struct {
		name string
		term Term
		want string
	}{
		{"atom", bird, "bird"},
		{"statement", in.Compound(OpInheritance, bird, flies), "<bird --> flies>"},
		{"conjunction", in.Compound(OpConjunction, bird, fish), "(&&,bird,fish)"},
		{"ext set", in.Compound(OpSetExt, bird, fish), "{bird,fish}"},
		{"int set", in.Compound(OpSetInt, flies), "[flies]"},
		{"nested", in.Compound(OpImplication, in.Compound(OpConjunction, bird, fish), flies), "<(&&,bird,fish) ==> flies>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.term.Name())
		})
	}
}

func TestInterner(t *testing.T) {
	in := NewInterner()

	a1 := in.Atom("a")
	a2 := in.Atom("a")
	assert.Same(t, a1, a2)

	c1 := in.Compound(OpProduct, a1, in.Atom("b"))
	c2 := in.Compound(OpProduct, a2, in.Atom("b"))
	assert.Same(t, c1, c2)
	assert.Equal(t, 3, in.Len())

	got, ok := in.Lookup("(*,a,b)")
	require.True(t, ok)
	assert.Same(t, c1, got)

	ext := &Atom{name: "a"}
	assert.Same(t, a1, in.Intern(ext))

	in.Reset()
	assert.Equal(t, 0, in.Len())
	assert.NotSame(t, a1, in.Atom("a"))
}

func TestInternerSessionsAreIndependent(t *testing.T) {
	s1, s2 := NewInterner(), NewInterner()
	assert.NotSame(t, s1.Atom("x"), s2.Atom("x"))
}

func TestInternerConcurrent(t *testing.T) {
	in := NewInterner()
	var wg sync.WaitGroup
	results := make([]Term, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				in.Atom(fmt.Sprintf("t%d", j))
			}
			results[i] = in.Atom("shared")
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, 101, in.Len())
}

func TestOperators(t *testing.T) {
	assert.True(t, OpInheritance.IsStatement())
	assert.False(t, OpConjunction.IsStatement())
	assert.True(t, OpEquivalence.IsConditional())
	assert.False(t, OpSimilarity.IsConditional())

	c := NewCompound(OpConjunction, &Atom{name: "x"}, &Atom{name: "y"})
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "y", c.Component(1).Name())
	comps := c.Components()
	comps[0] = &Atom{name: "z"}
	assert.Equal(t, "x", c.Component(0).Name())
	assert.Equal(t, OpConjunction, c.Operator())
}
