package querycache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		pattern Pattern
		want    bool
	}{
		{"exact hit", NewKey(DomainTask, "t1"), Exact(DomainTask, "t1"), true},
		{"exact miss on scope", NewKey(DomainTask, "t1"), Exact(DomainTask, "t2"), false},
		{"exact miss on longer key", NewKey(DomainTask, "t1", "x"), Exact(DomainTask, "t1"), false},
		{"whole domain", NewKey(DomainCalendarTasks, "u1", "2026-10-14"), All(DomainCalendarTasks), true},
		{"prefix scope", NewKey(DomainCalendarTasks, "u1", "2026-10-14"), Prefix(DomainCalendarTasks, "u1"), true},
		{"prefix other user", NewKey(DomainCalendarTasks, "u2", "2026-10-14"), Prefix(DomainCalendarTasks, "u1"), false},
		{"prefix longer than key", NewKey(DomainCalendarTasks), Prefix(DomainCalendarTasks, "u1"), false},
		{"sibling domain", NewKey(DomainProjectTasks, "p1"), All(DomainTasks), false},
		{"unscoped collection", NewKey(DomainTasks), Exact(DomainTasks), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Matches(tc.key, tc.pattern))
			assert.Equal(t, tc.want, tc.pattern.Matches(tc.key))
		})
	}
}

func TestKeyEncodingKeepsPrefixes(t *testing.T) {
	key := NewKey(DomainCalendarTasks, "u1", "2026-10-14")
	assert.True(t, strings.HasPrefix(key.String(), encode(DomainCalendarTasks, []string{"u1"})))

	// A part containing the separator must not forge a deeper scope.
	forged := NewKey(DomainCalendarTasks, "u1|2026")
	assert.False(t, strings.HasPrefix(forged.String(), encode(DomainCalendarTasks, []string{"u1"})))

	// Sibling domains whose names share a prefix stay apart.
	assert.False(t, strings.HasPrefix(NewKey(DomainTaskAssignees).String(), NewKey(DomainTask).String()))
}

func TestDomainValid(t *testing.T) {
	assert.True(t, DomainAdReview.Valid())
	assert.False(t, Domain("ad-reviews").Valid())
}
