package termlink

import "github.com/orneryd/attend/pkg/term"

// prepareDepth bounds how far Prepare descends into nested compounds.
const prepareDepth = 3

// Prepare derives the link templates of a compound host: one per reachable
// component, up to three levels down.
//
// Components of a statement use CompoundStatement, other compounds use
// Compound. Conditions in the conjunctive subject of an implication or
// equivalence use CompoundCondition. Components of a product that is the
// subject or predicate of an inheritance use Transform.
func Prepare(host *term.Compound) []*Template {
	var out []*Template
	add := func(target term.Term, typ Type, path ...int) {
		if tpl, err := New(host, target, typ, path...); err == nil {
			out = append(out, tpl)
		}
	}

	var walk func(c *term.Compound, path []int, typ Type)
	walk = func(c *term.Compound, path []int, typ Type) {
		for i := 0; i < c.Len(); i++ {
			comp := c.Component(i)
			p := append(append([]int(nil), path...), i)
			add(comp, typ, p...)

			sub, ok := comp.(*term.Compound)
			if !ok || len(p) >= prepareDepth {
				continue
			}
			switch {
			case len(path) == 0 && i == 0 && c.Operator().IsConditional() && sub.Operator() == term.OpConjunction:
				for j := 0; j < sub.Len(); j++ {
					add(sub.Component(j), CompoundCondition, j)
				}
			case len(path) == 0 && c.Operator() == term.OpInheritance && sub.Operator() == term.OpProduct:
				for j := 0; j < sub.Len(); j++ {
					add(sub.Component(j), Transform, i, j)
				}
			default:
				walk(sub, p, linkTypeFor(sub))
			}
		}
	}
	walk(host, nil, linkTypeFor(host))
	return out
}

func linkTypeFor(c *term.Compound) Type {
	if c.Operator().IsStatement() {
		return CompoundStatement
	}
	return Compound
}
