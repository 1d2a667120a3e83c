package invalidate

// Constructors for the per-entity invalidators. An empty scope watches the
// whole table.

func NewTaskInvalidator(deps Deps, projectID string, enabled bool) (*Invalidator, error) {
	return New(TaskPolicy, deps, projectID, enabled)
}

func NewProjectInvalidator(deps Deps, companyID string, enabled bool) (*Invalidator, error) {
	return New(ProjectPolicy, deps, companyID, enabled)
}

func NewCampaignInvalidator(deps Deps, companyID string, enabled bool) (*Invalidator, error) {
	return New(CampaignPolicy, deps, companyID, enabled)
}

func NewMilestoneInvalidator(deps Deps, projectID string, enabled bool) (*Invalidator, error) {
	return New(MilestonePolicy, deps, projectID, enabled)
}

func NewTaskAssigneeInvalidator(deps Deps, taskID string, enabled bool) (*Invalidator, error) {
	return New(TaskAssigneePolicy, deps, taskID, enabled)
}

func NewProjectAssigneeInvalidator(deps Deps, projectID string, enabled bool) (*Invalidator, error) {
	return New(ProjectAssigneePolicy, deps, projectID, enabled)
}

func NewCampaignAssigneeInvalidator(deps Deps, campaignID string, enabled bool) (*Invalidator, error) {
	return New(CampaignAssigneePolicy, deps, campaignID, enabled)
}

func NewAdInvalidator(deps Deps, campaignID string, enabled bool) (*Invalidator, error) {
	return New(AdPolicy, deps, campaignID, enabled)
}

func NewAdCommentInvalidator(deps Deps, adID string, enabled bool) (*Invalidator, error) {
	return New(AdCommentPolicy, deps, adID, enabled)
}
