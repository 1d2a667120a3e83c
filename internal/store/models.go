package store

import "time"

type ApprovalStatus string

const (
	ApprovalDraft    ApprovalStatus = "draft"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "draft"
	CampaignInProgress CampaignStatus = "in_progress"
	CampaignReady      CampaignStatus = "ready"
	CampaignPublished  CampaignStatus = "published"
	CampaignArchived   CampaignStatus = "archived"
)

type Ad struct {
	ID              string
	CampaignID      string
	Name            string
	FileURL         string
	FileType        string
	ApprovalStatus  ApprovalStatus
	ApprovedBy      *string
	ApprovedAt      *time.Time
	RejectionReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Campaign struct {
	ID        string
	CompanyID string
	Name      string
	Status    CampaignStatus
	EndDate   *time.Time
}

// IsLocked reports whether the campaign is past the point where creative
// can change.
func (c Campaign) IsLocked() bool {
	switch c.Status {
	case CampaignReady, CampaignPublished, CampaignArchived:
		return true
	default:
		return false
	}
}

// AdComment is a marker on ad media. X and Y are percentages of the media
// width and height.
type AdComment struct {
	ID              string
	AdID            string
	X               float64
	Y               float64
	Text            string
	AuthorID        string
	AuthorName      string
	IsResolved      bool
	ResolvedBy      *string
	ResolvedAt      *time.Time
	ParentCommentID *string
	CreatedAt       time.Time
}

func (c AdComment) IsRoot() bool {
	return c.ParentCommentID == nil || *c.ParentCommentID == ""
}

type MediaUpload struct {
	ID         string
	AdID       string
	FileURL    string
	FileType   string
	UploadedBy string
	UploadedAt time.Time
}

type Project struct {
	ID        string
	CompanyID string
	Name      string
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
	CreatedAt time.Time
}

type Task struct {
	ID        string
	ProjectID string
	Title     string
	Status    string
	DueDate   *time.Time
	SortOrder int
	Assignees []string
}

type Milestone struct {
	ID          string
	ProjectID   string
	Name        string
	DueDate     *time.Time
	CompletedAt *time.Time
}

type DeadlineKind string

const (
	DeadlineTask      DeadlineKind = "task"
	DeadlineProject   DeadlineKind = "project"
	DeadlineCampaign  DeadlineKind = "campaign"
	DeadlineMilestone DeadlineKind = "milestone"
)

// Deadline is one dated item on a user's calendar.
type Deadline struct {
	Kind     DeadlineKind
	ID       string
	Title    string
	ParentID string
	DueAt    time.Time
}
