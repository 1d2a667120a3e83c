// Package rbac maps agency roles to the review actions they may take.
package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RoleClient  Role = "client"
	RoleMember  Role = "member"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead         Action = "read"
	ActionComment      Action = "comment"
	ActionResolve      Action = "resolve"
	ActionSubmit       Action = "submit"
	ActionReplaceMedia Action = "replace_media"
	ActionApprove      Action = "approve"
	// ActionModerate covers deleting other people's comments.
	ActionModerate Action = "moderate"
)

var grants = map[Role]map[Action]bool{
	RoleViewer: {ActionRead: true},
	RoleClient: {ActionRead: true, ActionComment: true, ActionApprove: true},
	RoleMember: {
		ActionRead: true, ActionComment: true, ActionResolve: true,
		ActionSubmit: true, ActionReplaceMedia: true,
	},
	RoleManager: {
		ActionRead: true, ActionComment: true, ActionResolve: true,
		ActionSubmit: true, ActionReplaceMedia: true, ActionApprove: true,
	},
}

func Can(role Role, action Action) bool {
	if role == RoleAdmin {
		return true
	}
	return grants[role][action]
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleClient, RoleMember, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
