package budget

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Text form markers.
const (
	Mark      = '$'
	Separator = ';'
)

// String renders the full 4-digit form, e.g. "$0.8000;0.5000;0.9000$".
func (b *Budget) String() string {
	return render("%.4f", b.priority, b.durability, b.quality)
}

// External renders the brief 2-digit form, e.g. "$0.80;0.50;0.90$".
func (b *Budget) External() string {
	return render("%.2f", b.priority, b.durability, b.quality)
}

// String1 renders one digit per component, e.g. "$8;5$" or "$8;5;9$".
func (b *Budget) String1(includeQuality bool) string {
	var sb strings.Builder
	sb.Grow(7)
	sb.WriteByte(Mark)
	sb.WriteByte(digit1(b.priority))
	sb.WriteByte(Separator)
	sb.WriteByte(digit1(b.durability))
	if includeQuality {
		sb.WriteByte(Separator)
		sb.WriteByte(digit1(b.quality))
	}
	sb.WriteByte(Mark)
	return sb.String()
}

func render(format string, p, d, q float64) string {
	var sb strings.Builder
	sb.Grow(24)
	sb.WriteByte(Mark)
	fmt.Fprintf(&sb, format, p)
	sb.WriteByte(Separator)
	fmt.Fprintf(&sb, format, d)
	sb.WriteByte(Separator)
	fmt.Fprintf(&sb, format, q)
	sb.WriteByte(Mark)
	return sb.String()
}

// digit1 maps [0, 1] to '0'..'9'; 1.0 shares the top digit with 0.9.
func digit1(v float64) byte {
	if math.IsNaN(v) {
		return '-'
	}
	i := int(math.Round(clamp(v) * 10))
	if i > 9 {
		i = 9
	}
	return byte('0' + i)
}

// Parse reads the text form "$p;d;q$". It is meant for human input on the
// command line, not for persistence.
func Parse(s string) (*Budget, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != Mark || s[len(s)-1] != Mark {
		return nil, fmt.Errorf("%w: %q is not enclosed in %c", ErrInvalidBudget, s, Mark)
	}
	fields := strings.Split(s[1:len(s)-1], string(Separator))
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: %q needs 3 fields, got %d", ErrInvalidBudget, s, len(fields))
	}
	var v [3]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d of %q: %v", ErrInvalidBudget, i+1, s, err)
		}
		v[i] = x
	}
	return New(v[0], v[1], v[2])
}

// SplitPrefix splits a leading budget text form from the rest of a line,
// e.g. "$0.8;0.5;0.9$ bird" -> ("$0.8;0.5;0.9$", "bird"). ok is false when the
// line does not start with a budget.
func SplitPrefix(line string) (prefix, rest string, ok bool) {
	line = strings.TrimSpace(line)
	if len(line) == 0 || line[0] != Mark {
		return "", line, false
	}
	end := strings.IndexByte(line[1:], Mark)
	if end < 0 {
		return "", line, false
	}
	return line[:end+2], strings.TrimSpace(line[end+2:]), true
}
