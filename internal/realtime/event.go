// Package realtime multiplexes a row-level change feed into per-table
// subscriptions with local filter matching.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

func ParseOperation(raw string) (Operation, error) {
	switch op := Operation(strings.ToUpper(strings.TrimSpace(raw))); op {
	case OpInsert, OpUpdate, OpDelete:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation %q", raw)
	}
}

// Record is a row snapshot keyed by column name.
type Record map[string]any

// String returns the column value in its text form. Absent and null columns
// report false.
func (r Record) String(column string) (string, bool) {
	if r == nil {
		return "", false
	}
	value, ok := r[column]
	if !ok || value == nil {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// ChangeEvent is one committed row change. INSERT carries After, DELETE
// carries Before, UPDATE carries both when the table publishes old rows.
type ChangeEvent struct {
	Table     string
	Operation Operation
	Before    Record
	After     Record
}

var ErrInvalidEvent = errors.New("invalid change event")

func (e ChangeEvent) Validate() error {
	if strings.TrimSpace(e.Table) == "" {
		return fmt.Errorf("%w: table is required", ErrInvalidEvent)
	}
	if _, err := ParseOperation(string(e.Operation)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if e.Before == nil && e.After == nil {
		return fmt.Errorf("%w: no row snapshot", ErrInvalidEvent)
	}
	return nil
}

// Values returns the distinct non-null values of column across both
// snapshots, After first.
func (e ChangeEvent) Values(column string) []string {
	var out []string
	if v, ok := e.After.String(column); ok {
		out = append(out, v)
	}
	if v, ok := e.Before.String(column); ok && (len(out) == 0 || out[0] != v) {
		out = append(out, v)
	}
	return out
}
