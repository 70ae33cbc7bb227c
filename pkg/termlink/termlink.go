// Package termlink describes the structural links between a compound term and
// its components, and builds the compact byte keys used to store those links
// in a bag.
//
// A link key is one byte for the link type and direction, one byte per level
// of the component path, then the target's name:
//
//	'A'+type, 'a'+index[0], 'a'+index[1], ..., name(target)
//
// Link types come in pairs. The even member points from a compound to a
// component; the odd member (even-1) is the reverse direction. A Template
// always stores the even type and derives the other.
//
// Example:
//
//	tpl, err := termlink.New(host, bird, termlink.CompoundStatement, 0)
//	if err != nil {
//		return err
//	}
//	in := tpl.Prefix(true, bird)   // "Ea" + "bird"
//	out := tpl.Prefix(false, host) // "Da" + "<bird --> flies>"
package termlink

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/orneryd/attend/pkg/budget"
	"github.com/orneryd/attend/pkg/term"
)

// Type is a link type. Even values point from compound to component.
type Type uint8

// Link types.
const (
	Self               Type = 0
	Component          Type = 1
	Compound           Type = 2
	ComponentStatement Type = 3
	CompoundStatement  Type = 4
	ComponentCondition Type = 5
	CompoundCondition  Type = 6
	Transform          Type = 8
)

var typeNames = map[Type]string{
	Self:               "self",
	Component:          "component",
	Compound:           "compound",
	ComponentStatement: "component-statement",
	CompoundStatement:  "compound-statement",
	ComponentCondition: "component-condition",
	CompoundCondition:  "compound-condition",
	Transform:          "transform",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ToComponent reports whether the type points from compound to component.
func (t Type) ToComponent() bool { return t%2 == 0 }

// MaxDepth is the longest component path a template may carry.
const MaxDepth = 4

// MaxIndex is the largest component index that fits in one key byte.
const MaxIndex = 0xff - 'a'

var (
	// ErrOddLinkType is returned for a template type that does not point to a component.
	ErrOddLinkType = errors.New("template link type must be even")
	// ErrTooDeep is returned for a component path longer than MaxDepth.
	ErrTooDeep = errors.New("component path too deep")
	// ErrIndexRange is returned for a component index that does not fit in a key byte.
	ErrIndexRange = errors.New("component index out of range")
)

// Template is the precomputed description of one structural link from a host
// compound to a target component.
//
// Host, target, type and index are immutable. The pending budget and the
// cached key prefixes are the only mutable state; the prefixes are computed
// once on first use.
type Template struct {
	host   term.Term
	target term.Term
	typ    Type
	index  []uint8

	pending *budget.Budget

	inOnce, outOnce   sync.Once
	incoming, outgoing []byte
}

// New creates a template. typ must be even. For CompoundCondition a leading
// 0 is prepended to indices, so the stored path is one level longer than the
// one passed in.
func New(host, target term.Term, typ Type, indices ...int) (*Template, error) {
	if !typ.ToComponent() {
		return nil, fmt.Errorf("%w: %s (%d) for target %s", ErrOddLinkType, typ, typ, target.Name())
	}
	if typ == CompoundCondition {
		indices = append([]int{0}, indices...)
	}
	if len(indices) > MaxDepth {
		return nil, fmt.Errorf("%w: %d levels, max %d", ErrTooDeep, len(indices), MaxDepth)
	}
	index := make([]uint8, len(indices))
	for i, v := range indices {
		if v < 0 || v > MaxIndex {
			return nil, fmt.Errorf("%w: %d at level %d", ErrIndexRange, v, i)
		}
		index[i] = uint8(v)
	}
	return &Template{
		host:    host,
		target:  target,
		typ:     typ,
		index:   index,
		pending: &budget.Budget{},
	}, nil
}

// Host returns the compound that owns the template.
func (t *Template) Host() term.Term { return t.host }

// Target returns the linked component.
func (t *Template) Target() term.Term { return t.target }

// Type returns the stored (even) link type.
func (t *Template) Type() Type { return t.typ }

// Index returns a copy of the component path.
func (t *Template) Index() []int {
	out := make([]int, len(t.index))
	for i, v := range t.index {
		out[i] = int(v)
	}
	return out
}

// Pending returns the budget accumulated for links not yet created.
func (t *Template) Pending() *budget.Budget { return t.pending }

// Accumulate merges b into the pending budget.
func (t *Template) Accumulate(b *budget.Budget) {
	t.pending.MergePlus(b)
}

// Flush returns the pending budget and resets the accumulator.
func (t *Template) Flush() *budget.Budget {
	out := t.pending
	t.pending = &budget.Budget{}
	return out
}

// Prefix returns the link key for the given direction and target: the cached
// type/index prefix followed by target's name. incoming is the
// compound-to-component direction.
func (t *Template) Prefix(incoming bool, target term.Term) []byte {
	var p []byte
	if incoming {
		t.inOnce.Do(func() { t.incoming = Prefix(t.typ, t.index, true) })
		p = t.incoming
	} else {
		t.outOnce.Do(func() { t.outgoing = Prefix(t.typ, t.index, false) })
		p = t.outgoing
	}
	name := target.Name()
	key := make([]byte, 0, len(p)+len(name))
	key = append(key, p...)
	return append(key, name...)
}

// Key is Prefix as a string, suitable as a map or bag key.
func (t *Template) Key(incoming bool, target term.Term) string {
	return string(t.Prefix(incoming, target))
}

// Prefix builds the type/index part of a link key. Outgoing keys use the
// paired odd type. An outgoing Self link with no index has an empty prefix.
func Prefix(typ Type, index []uint8, incoming bool) []byte {
	if !incoming && typ == Self && len(index) == 0 {
		return []byte{}
	}
	code := byte('A') + byte(typ)
	if !incoming {
		code--
	}
	out := make([]byte, 0, len(index)+1)
	out = append(out, code)
	for _, i := range index {
		out = append(out, 'a'+i)
	}
	return out
}

func (t *Template) String() string {
	var sb strings.Builder
	sb.WriteString(t.host.Name())
	sb.WriteByte(':')
	sb.Write(t.Prefix(true, t.target))
	sb.WriteByte('|')
	sb.Write(t.Prefix(false, t.target))
	sb.WriteByte(':')
	sb.WriteString(t.target.Name())
	return sb.String()
}

// Equal reports whether two templates describe the same link.
func (t *Template) Equal(o *Template) bool {
	if o == nil {
		return false
	}
	return t.String() == o.String()
}
