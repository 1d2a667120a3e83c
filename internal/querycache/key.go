// Package querycache holds the process-wide cache that backs the API read
// models, keyed by structured cache keys and invalidated by pattern.
package querycache

import (
	"net/url"
	"strings"
)

// Domain names one family of cached query results. Domains are siblings:
// invalidating one never touches another.
type Domain string

const (
	DomainTasks         Domain = "tasks"
	DomainProjectTasks  Domain = "project-tasks"
	DomainTask          Domain = "task"
	DomainTaskAssignees Domain = "task-assignees"

	DomainProjects         Domain = "projects"
	DomainCompanyProjects  Domain = "company-projects"
	DomainProject          Domain = "project"
	DomainProjectAssignees Domain = "project-assignees"

	DomainCampaigns         Domain = "campaigns"
	DomainCompanyCampaigns  Domain = "company-campaigns"
	DomainCampaign          Domain = "campaign"
	DomainCampaignAssignees Domain = "campaign-assignees"

	DomainProjectMilestones Domain = "project-milestones"
	DomainAllMilestones     Domain = "all-project-milestones"

	DomainCalendarTasks      Domain = "calendar-tasks"
	DomainCalendarProjects   Domain = "calendar-projects"
	DomainCalendarCampaigns  Domain = "calendar-campaigns"
	DomainCalendarMilestones Domain = "calendar-milestones"

	DomainCampaignAds Domain = "campaign-ads"
	DomainAd          Domain = "ad"
	DomainAdComments  Domain = "ad-comments"
	DomainAdReview    Domain = "ad-review"
)

var knownDomains = map[Domain]struct{}{
	DomainTasks: {}, DomainProjectTasks: {}, DomainTask: {}, DomainTaskAssignees: {},
	DomainProjects: {}, DomainCompanyProjects: {}, DomainProject: {}, DomainProjectAssignees: {},
	DomainCampaigns: {}, DomainCompanyCampaigns: {}, DomainCampaign: {}, DomainCampaignAssignees: {},
	DomainProjectMilestones: {}, DomainAllMilestones: {},
	DomainCalendarTasks: {}, DomainCalendarProjects: {}, DomainCalendarCampaigns: {}, DomainCalendarMilestones: {},
	DomainCampaignAds: {}, DomainAd: {}, DomainAdComments: {}, DomainAdReview: {},
}

// Valid reports whether d is one of the declared domains.
func (d Domain) Valid() bool {
	_, ok := knownDomains[d]
	return ok
}

// Key identifies one cached query result: a domain plus ordered scope parts,
// e.g. (project-tasks, <projectID>).
type Key struct {
	Domain Domain
	Scope  []string
}

func NewKey(domain Domain, scope ...string) Key {
	return Key{Domain: domain, Scope: scope}
}

// String encodes the key so that the encoding of a key is a string prefix
// of the encoding of every key it structurally prefixes.
func (k Key) String() string {
	return encode(k.Domain, k.Scope)
}

func (k Key) Equal(other Key) bool {
	if k.Domain != other.Domain || len(k.Scope) != len(other.Scope) {
		return false
	}
	for i := range k.Scope {
		if k.Scope[i] != other.Scope[i] {
			return false
		}
	}
	return true
}

// Pattern selects keys for invalidation. An exact pattern matches one key;
// a prefix pattern matches every key of the domain whose scope starts with
// the pattern's scope (an empty scope matches the whole domain).
type Pattern struct {
	Domain Domain
	Scope  []string
	Exact  bool
}

func Exact(domain Domain, scope ...string) Pattern {
	return Pattern{Domain: domain, Scope: scope, Exact: true}
}

func Prefix(domain Domain, scope ...string) Pattern {
	return Pattern{Domain: domain, Scope: scope}
}

// All matches every key of the domain.
func All(domain Domain) Pattern {
	return Prefix(domain)
}

func (p Pattern) Matches(key Key) bool {
	return Matches(key, p)
}

func (p Pattern) String() string {
	if p.Exact {
		return encode(p.Domain, p.Scope)
	}
	return encode(p.Domain, p.Scope) + "*"
}

// Matches reports whether key is selected by pattern.
func Matches(key Key, pattern Pattern) bool {
	if key.Domain != pattern.Domain {
		return false
	}
	if pattern.Exact {
		return key.Equal(Key{Domain: pattern.Domain, Scope: pattern.Scope})
	}
	if len(pattern.Scope) > len(key.Scope) {
		return false
	}
	for i, part := range pattern.Scope {
		if key.Scope[i] != part {
			return false
		}
	}
	return true
}

func encode(domain Domain, scope []string) string {
	var b strings.Builder
	b.WriteString(url.QueryEscape(string(domain)))
	b.WriteByte('|')
	for _, part := range scope {
		b.WriteString(url.QueryEscape(part))
		b.WriteByte('|')
	}
	return b.String()
}
