package app

import (
	"time"

	"customerportal/api/internal/review"
	"customerportal/api/internal/store"
)

func timeValue(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339)
}

func stringValue(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func adPayload(ad store.Ad) map[string]any {
	return map[string]any{
		"id":              ad.ID,
		"campaignId":      ad.CampaignID,
		"name":            ad.Name,
		"fileUrl":         ad.FileURL,
		"fileType":        ad.FileType,
		"approvalStatus":  string(ad.ApprovalStatus),
		"approvedBy":      stringValue(ad.ApprovedBy),
		"approvedAt":      timeValue(ad.ApprovedAt),
		"rejectionReason": stringValue(ad.RejectionReason),
		"updatedAt":       ad.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func commentPayload(comment store.AdComment) map[string]any {
	return map[string]any{
		"id":              comment.ID,
		"adId":            comment.AdID,
		"x":               comment.X,
		"y":               comment.Y,
		"text":            comment.Text,
		"authorId":        comment.AuthorID,
		"authorName":      comment.AuthorName,
		"isResolved":      comment.IsResolved,
		"resolvedBy":      stringValue(comment.ResolvedBy),
		"resolvedAt":      timeValue(comment.ResolvedAt),
		"parentCommentId": stringValue(comment.ParentCommentID),
		"createdAt":       comment.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func reviewPayload(state review.State) map[string]any {
	comments := make([]map[string]any, 0, len(state.Comments))
	for _, comment := range state.Comments {
		comments = append(comments, commentPayload(comment))
	}
	var blocked any
	if state.ReplaceMediaBlockedReason != "" {
		blocked = state.ReplaceMediaBlockedReason
	}
	return map[string]any{
		"ad": adPayload(state.Ad),
		"campaign": map[string]any{
			"id":       state.Campaign.ID,
			"name":     state.Campaign.Name,
			"status":   string(state.Campaign.Status),
			"isLocked": state.Campaign.IsLocked(),
			"endDate":  timeValue(state.Campaign.EndDate),
		},
		"comments":                  comments,
		"hasUnresolvedComments":     state.HasUnresolvedComments,
		"canAddComment":             state.CanAddComment,
		"canReplaceMedia":           state.CanReplaceMedia,
		"replaceMediaBlockedReason": blocked,
	}
}

func milestonePayload(m store.Milestone) map[string]any {
	return map[string]any{
		"id":          m.ID,
		"projectId":   m.ProjectID,
		"name":        m.Name,
		"dueDate":     timeValue(m.DueDate),
		"completedAt": timeValue(m.CompletedAt),
	}
}

func projectOverviewPayload(item ProjectOverview) map[string]any {
	var next any
	if item.NextMilestone != nil {
		next = milestonePayload(*item.NextMilestone)
	}
	return map[string]any{
		"id":                  item.Project.ID,
		"companyId":           item.Project.CompanyID,
		"name":                item.Project.Name,
		"status":              item.Project.Status,
		"startDate":           timeValue(item.Project.StartDate),
		"endDate":             timeValue(item.Project.EndDate),
		"badge":               item.Badge,
		"milestonesTotal":     item.MilestonesTotal,
		"milestonesCompleted": item.MilestonesCompleted,
		"nextMilestone":       next,
	}
}

func taskPayload(task store.Task) map[string]any {
	assignees := task.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	return map[string]any{
		"id":        task.ID,
		"projectId": task.ProjectID,
		"title":     task.Title,
		"status":    task.Status,
		"dueDate":   timeValue(task.DueDate),
		"sortOrder": task.SortOrder,
		"assignees": assignees,
	}
}

func deadlinePayload(item store.Deadline) map[string]any {
	return map[string]any{
		"kind":     string(item.Kind),
		"id":       item.ID,
		"title":    item.Title,
		"parentId": item.ParentID,
		"dueAt":    item.DueAt.UTC().Format(time.RFC3339),
	}
}

func listPayload[T any](items []T, present func(T) map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, present(item))
	}
	return out
}
