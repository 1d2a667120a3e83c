package invalidate

import (
	"errors"
)

// group runs a set of unscoped invalidators together.
type group struct {
	invalidators []*Invalidator
}

// newGroup starts one unscoped invalidator per policy. On error the ones
// already started are closed.
func newGroup(deps Deps, policies []Policy, enabled bool) (*group, error) {
	g := &group{}
	for _, policy := range policies {
		inv, err := New(policy, deps, "", enabled)
		if err != nil {
			if inv != nil {
				inv.Close()
			}
			g.Close()
			return nil, err
		}
		g.invalidators = append(g.invalidators, inv)
	}
	return g, nil
}

func (g *group) SetEnabled(enabled bool) error {
	var errs []error
	for _, inv := range g.invalidators {
		if err := inv.SetEnabled(enabled); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *group) Invalidators() []*Invalidator {
	return g.invalidators
}

func (g *group) Close() {
	for _, inv := range g.invalidators {
		inv.Close()
	}
}

// CalendarAggregator watches every table the calendar read model depends
// on. It owns no keys of its own.
type CalendarAggregator struct {
	*group
}

func calendarPolicies() []Policy {
	return []Policy{
		TaskPolicy,
		ProjectPolicy,
		CampaignPolicy,
		MilestonePolicy,
		TaskAssigneePolicy,
		ProjectAssigneePolicy,
		CampaignAssigneePolicy,
	}
}

func NewCalendarAggregator(deps Deps, enabled bool) (*CalendarAggregator, error) {
	g, err := newGroup(deps, calendarPolicies(), enabled)
	if err != nil {
		return nil, err
	}
	return &CalendarAggregator{group: g}, nil
}

// Global keeps every table watched, unscoped, for a process-wide cache.
type Global struct {
	Calendar *CalendarAggregator
	review   *group
}

func NewGlobal(deps Deps) (*Global, error) {
	calendar, err := NewCalendarAggregator(deps, true)
	if err != nil {
		return nil, err
	}
	review, err := newGroup(deps, []Policy{AdPolicy, AdCommentPolicy}, true)
	if err != nil {
		calendar.Close()
		return nil, err
	}
	return &Global{Calendar: calendar, review: review}, nil
}

func (g *Global) Invalidators() []*Invalidator {
	return append(append([]*Invalidator(nil), g.Calendar.Invalidators()...), g.review.Invalidators()...)
}

func (g *Global) Close() {
	g.review.Close()
	g.Calendar.Close()
}
