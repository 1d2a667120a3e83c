// Package invalidate translates row changes into query cache invalidations.
package invalidate

import (
	"customerportal/api/internal/querycache"
	"customerportal/api/internal/realtime"
)

// RowKey names an exact key built from one column of the changed row.
type RowKey struct {
	Domain querycache.Domain
	Column string
}

// Policy declares which keys depend on a table.
type Policy struct {
	Name        string
	Table       string
	ScopeColumn string
	// Scoped is keyed by the scope column value.
	Scoped querycache.Domain
	// Static patterns are invalidated on every change.
	Static []querycache.Pattern
	// RowKeys are exact keys taken from the row.
	RowKeys []RowKey
	// UserDomains are invalidated per user_id found in the row.
	UserDomains []querycache.Domain
}

const userColumn = "user_id"

// Targets returns the patterns to invalidate for event, deduplicated.
// scopeID is the scope the invalidator was created for, if any.
func (p Policy) Targets(scopeID string, event realtime.ChangeEvent) []querycache.Pattern {
	var out []querycache.Pattern
	seen := make(map[string]struct{})
	add := func(pattern querycache.Pattern) {
		key := pattern.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, pattern)
	}

	for _, pattern := range p.Static {
		add(pattern)
	}

	if p.Scoped != "" {
		scopes := event.Values(p.ScopeColumn)
		if scopeID != "" {
			add(querycache.Exact(p.Scoped, scopeID))
		}
		for _, scope := range scopes {
			add(querycache.Exact(p.Scoped, scope))
		}
		if scopeID == "" && len(scopes) == 0 {
			// The row no longer says which scope it belonged to.
			add(querycache.All(p.Scoped))
		}
	}

	for _, rk := range p.RowKeys {
		values := event.Values(rk.Column)
		if len(values) == 0 {
			add(querycache.All(rk.Domain))
		}
		for _, value := range values {
			add(querycache.Exact(rk.Domain, value))
		}
	}

	for _, domain := range p.UserDomains {
		users := event.Values(userColumn)
		if len(users) == 0 {
			add(querycache.All(domain))
		}
		for _, user := range users {
			add(querycache.Prefix(domain, user))
		}
	}
	return out
}

var (
	TaskPolicy = Policy{
		Name:        "task",
		Table:       "tasks",
		ScopeColumn: "project_id",
		Scoped:      querycache.DomainProjectTasks,
		Static: []querycache.Pattern{
			querycache.All(querycache.DomainTasks),
			querycache.All(querycache.DomainCalendarTasks),
		},
		RowKeys: []RowKey{{Domain: querycache.DomainTask, Column: "id"}},
	}

	ProjectPolicy = Policy{
		Name:        "project",
		Table:       "projects",
		ScopeColumn: "company_id",
		Scoped:      querycache.DomainCompanyProjects,
		Static: []querycache.Pattern{
			querycache.All(querycache.DomainProjects),
			querycache.All(querycache.DomainCalendarProjects),
			querycache.All(querycache.DomainCalendarMilestones),
		},
		RowKeys: []RowKey{{Domain: querycache.DomainProject, Column: "id"}},
	}

	CampaignPolicy = Policy{
		Name:        "campaign",
		Table:       "campaigns",
		ScopeColumn: "company_id",
		Scoped:      querycache.DomainCompanyCampaigns,
		Static: []querycache.Pattern{
			querycache.All(querycache.DomainCampaigns),
			querycache.All(querycache.DomainCalendarCampaigns),
			// Review state embeds the campaign lock.
			querycache.All(querycache.DomainAdReview),
		},
		RowKeys: []RowKey{{Domain: querycache.DomainCampaign, Column: "id"}},
	}

	MilestonePolicy = Policy{
		Name:        "milestone",
		Table:       "project_milestones",
		ScopeColumn: "project_id",
		Scoped:      querycache.DomainProjectMilestones,
		Static: []querycache.Pattern{
			querycache.All(querycache.DomainAllMilestones),
			querycache.All(querycache.DomainCalendarMilestones),
		},
	}

	TaskAssigneePolicy = Policy{
		Name:        "task-assignee",
		Table:       "task_assignees",
		ScopeColumn: "task_id",
		Scoped:      querycache.DomainTaskAssignees,
		Static: []querycache.Pattern{
			querycache.All(querycache.DomainTasks),
			querycache.All(querycache.DomainProjectTasks),
		},
		UserDomains: []querycache.Domain{querycache.DomainCalendarTasks},
	}

	ProjectAssigneePolicy = Policy{
		Name:        "project-assignee",
		Table:       "project_assignees",
		ScopeColumn: "project_id",
		Scoped:      querycache.DomainProjectAssignees,
		Static: []querycache.Pattern{
			querycache.All(querycache.DomainProjects),
		},
		UserDomains: []querycache.Domain{
			querycache.DomainCalendarProjects,
			querycache.DomainCalendarMilestones,
		},
	}

	CampaignAssigneePolicy = Policy{
		Name:        "campaign-assignee",
		Table:       "campaign_assignees",
		ScopeColumn: "campaign_id",
		Scoped:      querycache.DomainCampaignAssignees,
		Static: []querycache.Pattern{
			querycache.All(querycache.DomainCampaigns),
		},
		UserDomains: []querycache.Domain{querycache.DomainCalendarCampaigns},
	}

	AdPolicy = Policy{
		Name:        "ad",
		Table:       "ads",
		ScopeColumn: "campaign_id",
		Scoped:      querycache.DomainCampaignAds,
		RowKeys: []RowKey{
			{Domain: querycache.DomainAd, Column: "id"},
			{Domain: querycache.DomainAdReview, Column: "id"},
		},
	}

	AdCommentPolicy = Policy{
		Name:        "ad-comment",
		Table:       "ad_comments",
		ScopeColumn: "ad_id",
		Scoped:      querycache.DomainAdComments,
		RowKeys:     []RowKey{{Domain: querycache.DomainAdReview, Column: "ad_id"}},
	}
)

// Policies lists every policy in a stable order.
func Policies() []Policy {
	return []Policy{
		TaskPolicy,
		ProjectPolicy,
		CampaignPolicy,
		MilestonePolicy,
		TaskAssigneePolicy,
		ProjectAssigneePolicy,
		CampaignAssigneePolicy,
		AdPolicy,
		AdCommentPolicy,
	}
}

// Tables lists the tables the policies watch.
func Tables() []string {
	policies := Policies()
	out := make([]string, 0, len(policies))
	for _, p := range policies {
		out = append(out, p.Table)
	}
	return out
}
