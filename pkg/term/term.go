// Package term provides the minimal term model the allocator needs: a named,
// comparable identity for concepts and link targets.
//
// The term language itself (parsing, normalization, rewriting) lives outside
// this module. Terms here only carry a canonical name and, for compounds, an
// operator and ordered components so that link templates can be derived.
//
// Terms are interned through an explicit Interner owned by a reasoning session.
// There is no package-level table: two sessions never share term instances.
//
// Example:
//
//	in := term.NewInterner()
//	bird := in.Atom("bird")
//	flies := in.Atom("flies")
//	stmt := in.Compound(term.OpInheritance, bird, flies)
//	fmt.Println(stmt.Name()) // <bird --> flies>
package term

import (
	"strings"
	"sync"
)

// Term is anything with a canonical name. Two terms with the same name are
// the same term.
type Term interface {
	Name() string
}

// Atom is an indivisible term.
type Atom struct {
	name string
}

// Name returns the atom's name.
func (a *Atom) Name() string { return a.name }

func (a *Atom) String() string { return a.name }

// Operator names the connective of a compound term.
type Operator string

// Operators with special rendering or link semantics.
const (
	OpInheritance  Operator = "-->"
	OpSimilarity   Operator = "<->"
	OpImplication  Operator = "==>"
	OpEquivalence  Operator = "<=>"
	OpConjunction  Operator = "&&"
	OpDisjunction  Operator = "||"
	OpProduct      Operator = "*"
	OpSetExt       Operator = "{}"
	OpSetInt       Operator = "[]"
	OpNegation     Operator = "--"
	OpIntersection Operator = "&"
)

// IsStatement reports whether op relates a subject to a predicate.
func (op Operator) IsStatement() bool {
	switch op {
	case OpInheritance, OpSimilarity, OpImplication, OpEquivalence:
		return true
	}
	return false
}

// IsConditional reports whether op is an implication or equivalence, whose
// subject may be a conjunction of conditions.
func (op Operator) IsConditional() bool {
	return op == OpImplication || op == OpEquivalence
}

// Compound is a term built from an operator and ordered components.
type Compound struct {
	op         Operator
	components []Term
	name       string
}

// NewCompound builds a compound without interning it. Most callers should
// use Interner.Compound.
func NewCompound(op Operator, components ...Term) *Compound {
	c := &Compound{op: op, components: append([]Term(nil), components...)}
	c.name = render(op, c.components)
	return c
}

// Name returns the canonical rendering.
func (c *Compound) Name() string { return c.name }

func (c *Compound) String() string { return c.name }

// Operator returns the connective.
func (c *Compound) Operator() Operator { return c.op }

// Len returns the number of components.
func (c *Compound) Len() int { return len(c.components) }

// Component returns the i-th component.
func (c *Compound) Component(i int) Term { return c.components[i] }

// Components returns a copy of the component list.
func (c *Compound) Components() []Term {
	return append([]Term(nil), c.components...)
}

func render(op Operator, components []Term) string {
	var sb strings.Builder
	switch {
	case op.IsStatement() && len(components) == 2:
		sb.WriteByte('<')
		sb.WriteString(components[0].Name())
		sb.WriteByte(' ')
		sb.WriteString(string(op))
		sb.WriteByte(' ')
		sb.WriteString(components[1].Name())
		sb.WriteByte('>')
	case op == OpSetExt || op == OpSetInt:
		sb.WriteByte(op[0])
		for i, c := range components {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(c.Name())
		}
		sb.WriteByte(op[1])
	default:
		sb.WriteByte('(')
		sb.WriteString(string(op))
		for _, c := range components {
			sb.WriteByte(',')
			sb.WriteString(c.Name())
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// Interner maps names to a single shared Term instance for the lifetime of a
// reasoning session.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Input producers intern on their
//	own goroutines while the scheduler reads.
type Interner struct {
	mu    sync.RWMutex
	terms map[string]Term
}

// NewInterner creates an empty interning table.
func NewInterner() *Interner {
	return &Interner{terms: make(map[string]Term)}
}

// Atom returns the canonical atom for name.
func (in *Interner) Atom(name string) Term {
	return in.intern(name, func() Term { return &Atom{name: name} })
}

// Compound returns the canonical compound for op and components.
func (in *Interner) Compound(op Operator, components ...Term) Term {
	c := NewCompound(op, components...)
	return in.intern(c.name, func() Term { return c })
}

// Intern returns the canonical instance for t's name, registering t if the
// name is new.
func (in *Interner) Intern(t Term) Term {
	return in.intern(t.Name(), func() Term { return t })
}

// Lookup returns the interned term for name, if any.
func (in *Interner) Lookup(name string) (Term, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	t, ok := in.terms[name]
	return t, ok
}

// Len returns the number of interned terms.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.terms)
}

// Reset drops every interned term. Call at session teardown.
func (in *Interner) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.terms = make(map[string]Term)
}

func (in *Interner) intern(name string, create func() Term) Term {
	in.mu.RLock()
	t, ok := in.terms[name]
	in.mu.RUnlock()
	if ok {
		return t
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.terms[name]; ok {
		return t
	}
	t = create()
	in.terms[name] = t
	return t
}
