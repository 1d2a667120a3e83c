package review

import "customerportal/api/internal/store"

// Reasons reported by MediaGate, in guard order.
const (
	ReasonNoPermission       = "You do not have permission to replace media"
	ReasonUnresolvedComments = "Resolve comments before replacing media"
	ReasonApproved           = "Approved ads cannot have their media replaced"
	ReasonCampaignLocked     = "Campaign is locked; media can no longer be replaced"
)

func CanAddComment(ad store.Ad) bool {
	return ad.ApprovalStatus != store.ApprovalApproved
}

// CanResolveComment holds only for unresolved root comments; replies are
// never resolvable.
func CanResolveComment(comment store.AdComment) bool {
	return !comment.IsResolved && comment.IsRoot()
}

func HasUnresolvedRootComments(comments []store.AdComment) bool {
	for _, comment := range comments {
		if CanResolveComment(comment) {
			return true
		}
	}
	return false
}

// Gate is the outcome of a guard check. Reason is empty when Allowed.
type Gate struct {
	Allowed bool
	Reason  string
}

// MediaGate checks permission, then unresolved root comments, then the
// approved state, then the campaign lock. The first failing guard wins.
func MediaGate(permitted bool, ad store.Ad, campaign store.Campaign, comments []store.AdComment) Gate {
	switch {
	case !permitted:
		return Gate{Reason: ReasonNoPermission}
	case HasUnresolvedRootComments(comments):
		return Gate{Reason: ReasonUnresolvedComments}
	case ad.ApprovalStatus == store.ApprovalApproved:
		return Gate{Reason: ReasonApproved}
	case campaign.IsLocked():
		return Gate{Reason: ReasonCampaignLocked}
	default:
		return Gate{Allowed: true}
	}
}
