package cycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/orneryd/attend/pkg/budget"
	"github.com/orneryd/attend/pkg/term"
)

// ErrInvalidInput is returned for input lines ParseInput cannot read.
var ErrInvalidInput = errors.New("invalid input")

// SourceInput marks tasks built from external input lines.
const SourceInput = "input"

// DefaultInputBudget is the budget of an input line without one: a
// confident, fairly urgent judgment.
func DefaultInputBudget() *budget.Budget {
	return budget.MustNew(0.8, 0.8, budget.QualityFromTruth(1, 0.9))
}

// ParseInput builds a task from one input line:
//
//	[$p;d;q$] name
//	[$p;d;q$] subject op predicate
//
// where op is one of the statement operators (-->, <->, ==>, <=>) and every
// name is an atom. Lines without a budget use def, or DefaultInputBudget
// when def is nil. Terms are interned in in.
func ParseInput(in *term.Interner, line string, def *budget.Budget, tick int64) (*Task, error) {
	if def == nil {
		def = DefaultInputBudget()
	}
	prefix, rest, ok := budget.SplitPrefix(line)
	b := def.Clone(false)
	if ok {
		parsed, err := budget.Parse(prefix)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		b = parsed
	}

	fields := strings.Fields(rest)
	var t term.Term
	switch len(fields) {
	case 1:
		t = in.Atom(fields[0])
	case 3:
		op := term.Operator(fields[1])
		if !op.IsStatement() {
			return nil, fmt.Errorf("%w: %q is not a statement operator", ErrInvalidInput, fields[1])
		}
		t = in.Compound(op, in.Atom(fields[0]), in.Atom(fields[2]))
	case 0:
		return nil, fmt.Errorf("%w: empty line", ErrInvalidInput)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidInput, rest)
	}
	return NewTask(t, b, SourceInput, tick), nil
}
