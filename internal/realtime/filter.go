package realtime

import (
	"fmt"
	"strings"
)

type FilterOp string

const OpEq FilterOp = "eq"

// Filter restricts a subscription to rows whose column equals a value.
// A nil *Filter matches every row of the table.
type Filter struct {
	Column string
	Op     FilterOp
	Value  string
}

func Eq(column, value string) *Filter {
	return &Filter{Column: column, Op: OpEq, Value: value}
}

// Wire renders the filter in the backend's "column=op.value" form.
func (f *Filter) Wire() string {
	if f == nil {
		return ""
	}
	return f.Column + "=" + string(f.Op) + "." + f.Value
}

func (f *Filter) String() string {
	return f.Wire()
}

// ParseFilter parses the wire form. An empty string yields a nil filter.
func ParseFilter(wire string) (*Filter, error) {
	wire = strings.TrimSpace(wire)
	if wire == "" {
		return nil, nil
	}
	column, rest, ok := strings.Cut(wire, "=")
	if !ok || strings.TrimSpace(column) == "" {
		return nil, fmt.Errorf("filter %q: missing column", wire)
	}
	op, value, ok := strings.Cut(rest, ".")
	if !ok {
		return nil, fmt.Errorf("filter %q: missing operator", wire)
	}
	if FilterOp(op) != OpEq {
		return nil, fmt.Errorf("filter %q: unsupported operator %q", wire, op)
	}
	return &Filter{Column: strings.TrimSpace(column), Op: OpEq, Value: value}, nil
}

// Equal compares filters by value.
func (f *Filter) Equal(other *Filter) bool {
	if f == nil || other == nil {
		return f == nil && other == nil
	}
	return *f == *other
}

// Matches reports whether either snapshot of the event satisfies the filter,
// so a row moving out of scope is still seen by the old scope.
func (f *Filter) Matches(event ChangeEvent) bool {
	if f == nil {
		return true
	}
	for _, value := range event.Values(f.Column) {
		if value == f.Value {
			return true
		}
	}
	return false
}
