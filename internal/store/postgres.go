package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

const adColumns = `id, campaign_id, name, file_url, file_type, approval_status, approved_by, approved_at, rejection_reason, created_at, updated_at`

func scanAd(row rowScanner) (Ad, error) {
	var (
		item            Ad
		status          string
		approvedBy      sql.NullString
		approvedAt      sql.NullTime
		rejectionReason sql.NullString
	)
	if err := row.Scan(
		&item.ID,
		&item.CampaignID,
		&item.Name,
		&item.FileURL,
		&item.FileType,
		&status,
		&approvedBy,
		&approvedAt,
		&rejectionReason,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Ad{}, err
	}
	item.ApprovalStatus = ApprovalStatus(status)
	item.ApprovedBy = nullString(approvedBy)
	item.ApprovedAt = nullTime(approvedAt)
	item.RejectionReason = nullString(rejectionReason)
	return item, nil
}

func (s *PostgresStore) GetAd(ctx context.Context, adID string) (Ad, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+adColumns+` FROM ads WHERE id=$1`, adID)
	return scanAd(row)
}

func (s *PostgresStore) ListCampaignAds(ctx context.Context, campaignID string) ([]Ad, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+adColumns+`
		FROM ads
		WHERE campaign_id=$1
		ORDER BY created_at ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign ads: %w", err)
	}
	defer rows.Close()

	items := make([]Ad, 0)
	for rows.Next() {
		item, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ad: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ads: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, campaignID string) (Campaign, error) {
	var (
		item    Campaign
		status  string
		endDate sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, status, end_date
		FROM campaigns
		WHERE id=$1
	`, campaignID).Scan(&item.ID, &item.CompanyID, &item.Name, &status, &endDate)
	if err != nil {
		return Campaign{}, err
	}
	item.Status = CampaignStatus(status)
	item.EndDate = nullTime(endDate)
	return item, nil
}

const commentColumns = `id, ad_id, x, y, body, author_id, author_name, is_resolved, resolved_by, resolved_at, parent_comment_id, created_at`

func scanComment(row rowScanner) (AdComment, error) {
	var (
		item       AdComment
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
		parentID   sql.NullString
	)
	if err := row.Scan(
		&item.ID,
		&item.AdID,
		&item.X,
		&item.Y,
		&item.Text,
		&item.AuthorID,
		&item.AuthorName,
		&item.IsResolved,
		&resolvedBy,
		&resolvedAt,
		&parentID,
		&item.CreatedAt,
	); err != nil {
		return AdComment{}, err
	}
	item.ResolvedBy = nullString(resolvedBy)
	item.ResolvedAt = nullTime(resolvedAt)
	item.ParentCommentID = nullString(parentID)
	return item, nil
}

func (s *PostgresStore) ListAdComments(ctx context.Context, adID string) ([]AdComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM ad_comments
		WHERE ad_id=$1
		ORDER BY created_at ASC
	`, adID)
	if err != nil {
		return nil, fmt.Errorf("list ad comments: %w", err)
	}
	defer rows.Close()

	items := make([]AdComment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ad comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ad comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAdComment(ctx context.Context, adID, commentID string) (AdComment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM ad_comments WHERE ad_id=$1 AND id=$2`, adID, commentID)
	return scanComment(row)
}

func (s *PostgresStore) InsertAdComment(ctx context.Context, comment AdComment) (AdComment, error) {
	var parentID any
	if !comment.IsRoot() {
		parentID = *comment.ParentCommentID
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ad_comments (id, ad_id, x, y, body, author_id, author_name, parent_comment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, comment.ID, comment.AdID, comment.X, comment.Y, comment.Text, comment.AuthorID, comment.AuthorName, parentID).Scan(&comment.CreatedAt)
	if err != nil {
		return AdComment{}, fmt.Errorf("insert ad comment: %w", err)
	}
	return comment, nil
}

// ResolveAdComment marks an unresolved root comment resolved. It reports
// false when the comment is missing, a reply, or already resolved.
func (s *PostgresStore) ResolveAdComment(ctx context.Context, adID, commentID, resolvedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ad_comments
		SET is_resolved=TRUE, resolved_by=$3, resolved_at=NOW()
		WHERE ad_id=$1 AND id=$2 AND is_resolved=FALSE AND parent_comment_id IS NULL
	`, adID, commentID, resolvedBy)
	if err != nil {
		return false, fmt.Errorf("resolve ad comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve ad comment rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteAdComment removes a comment; replies go with their root through the
// foreign key cascade.
func (s *PostgresStore) DeleteAdComment(ctx context.Context, adID, commentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM ad_comments WHERE ad_id=$1 AND id=$2`, adID, commentID)
	if err != nil {
		return false, fmt.Errorf("delete ad comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete ad comment rows: %w", err)
	}
	return affected > 0, nil
}

var (
	ErrAdApproved         = errors.New("ad is approved")
	ErrUnresolvedComments = errors.New("ad has unresolved comments")
	ErrCampaignLocked     = errors.New("campaign is locked")
)

// ReplaceAdMedia points the ad at new media, resets it to draft and drops
// every comment in one transaction. The ad and campaign rows are locked and
// the replacement guards checked again inside the transaction, failing with
// ErrUnresolvedComments, ErrAdApproved or ErrCampaignLocked. A missing ad
// yields sql.ErrNoRows.
func (s *PostgresStore) ReplaceAdMedia(ctx context.Context, adID, fileURL, fileType string) (Ad, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Ad{}, fmt.Errorf("begin replace media tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// FOR UPDATE on the ad also blocks comment inserts, whose foreign key
	// check takes a key share lock on the same row.
	var (
		approval ApprovalStatus
		campaign Campaign
	)
	err = tx.QueryRowContext(ctx, `
		SELECT a.approval_status, c.status
		FROM ads a
		JOIN campaigns c ON c.id = a.campaign_id
		WHERE a.id=$1
		FOR UPDATE OF a, c
	`, adID).Scan(&approval, &campaign.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return Ad{}, err
	}
	if err != nil {
		return Ad{}, fmt.Errorf("lock ad for media: %w", err)
	}

	var unresolved bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ad_comments
			WHERE ad_id=$1 AND parent_comment_id IS NULL AND is_resolved=FALSE
		)
	`, adID).Scan(&unresolved); err != nil {
		return Ad{}, fmt.Errorf("check unresolved comments: %w", err)
	}
	switch {
	case unresolved:
		return Ad{}, ErrUnresolvedComments
	case approval == ApprovalApproved:
		return Ad{}, ErrAdApproved
	case campaign.IsLocked():
		return Ad{}, ErrCampaignLocked
	}

	item, err := scanAd(tx.QueryRowContext(ctx, `
		UPDATE ads
		SET file_url=$2, file_type=$3, approval_status='draft',
			approved_by=NULL, approved_at=NULL, rejection_reason=NULL, updated_at=NOW()
		WHERE id=$1 AND approval_status <> 'approved'
		RETURNING `+adColumns, adID, fileURL, fileType))
	if errors.Is(err, sql.ErrNoRows) {
		return Ad{}, ErrAdApproved
	}
	if err != nil {
		return Ad{}, fmt.Errorf("update ad media: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ad_comments WHERE ad_id=$1`, adID); err != nil {
		return Ad{}, fmt.Errorf("delete ad comments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Ad{}, fmt.Errorf("commit replace media: %w", err)
	}
	committed = true
	return item, nil
}

// ApprovalChange is a transition applied only if the ad is still in From.
type ApprovalChange struct {
	From            ApprovalStatus
	To              ApprovalStatus
	ApprovedBy      *string
	RejectionReason *string
}

// UpdateAdApproval applies change and reports false when the ad is missing
// or no longer in change.From.
func (s *PostgresStore) UpdateAdApproval(ctx context.Context, adID string, change ApprovalChange) (Ad, bool, error) {
	item, err := scanAd(s.db.QueryRowContext(ctx, `
		UPDATE ads
		SET approval_status=$3,
			approved_by=$4,
			approved_at=CASE WHEN $4::text IS NULL THEN NULL ELSE NOW() END,
			rejection_reason=$5,
			updated_at=NOW()
		WHERE id=$1 AND approval_status=$2
		RETURNING `+adColumns, adID, string(change.From), string(change.To), change.ApprovedBy, change.RejectionReason))
	if errors.Is(err, sql.ErrNoRows) {
		return Ad{}, false, nil
	}
	if err != nil {
		return Ad{}, false, fmt.Errorf("update ad approval: %w", err)
	}
	return item, true, nil
}

func (s *PostgresStore) InsertMediaUpload(ctx context.Context, upload MediaUpload) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_uploads (id, ad_id, file_url, file_type, uploaded_by)
		VALUES ($1, $2, $3, $4, $5)
	`, upload.ID, upload.AdID, upload.FileURL, upload.FileType, upload.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert media upload: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, status, start_date, end_date, created_at
		FROM projects
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var (
			item      Project
			startDate sql.NullTime
			endDate   sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.Name, &item.Status, &startDate, &endDate, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		item.StartDate = nullTime(startDate)
		item.EndDate = nullTime(endDate)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListProjectTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.project_id, t.title, t.status, t.due_date, t.sort_order,
			COALESCE(string_agg(ta.user_id, ',' ORDER BY ta.user_id), '')
		FROM tasks t
		LEFT JOIN task_assignees ta ON ta.task_id = t.id
		WHERE t.project_id=$1
		GROUP BY t.id
		ORDER BY t.sort_order ASC, t.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var (
			item      Task
			dueDate   sql.NullTime
			assignees string
		)
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Title, &item.Status, &dueDate, &item.SortOrder, &assignees); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		item.DueDate = nullTime(dueDate)
		item.Assignees = splitList(assignees)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListProjectMilestones(ctx context.Context, projectID string) ([]Milestone, error) {
	return s.listMilestones(ctx, `
		SELECT id, project_id, name, due_date, completed_at
		FROM project_milestones
		WHERE project_id=$1
		ORDER BY due_date ASC NULLS LAST, name ASC
	`, projectID)
}

func (s *PostgresStore) ListAllMilestones(ctx context.Context) ([]Milestone, error) {
	return s.listMilestones(ctx, `
		SELECT id, project_id, name, due_date, completed_at
		FROM project_milestones
		ORDER BY project_id ASC, due_date ASC NULLS LAST
	`)
}

func (s *PostgresStore) listMilestones(ctx context.Context, query string, args ...any) ([]Milestone, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	items := make([]Milestone, 0)
	for rows.Next() {
		var (
			item        Milestone
			dueDate     sql.NullTime
			completedAt sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &dueDate, &completedAt); err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		item.DueDate = nullTime(dueDate)
		item.CompletedAt = nullTime(completedAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestones: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListAssignedTaskDeadlines(ctx context.Context, userID string, from, to time.Time) ([]Deadline, error) {
	return s.listDeadlines(ctx, DeadlineTask, `
		SELECT t.id, t.title, t.project_id, t.due_date
		FROM tasks t
		JOIN task_assignees ta ON ta.task_id = t.id
		WHERE ta.user_id=$1 AND t.due_date >= $2 AND t.due_date < $3 AND t.status <> 'done'
		ORDER BY t.due_date ASC
	`, userID, from, to)
}

func (s *PostgresStore) ListAssignedProjectDeadlines(ctx context.Context, userID string, from, to time.Time) ([]Deadline, error) {
	return s.listDeadlines(ctx, DeadlineProject, `
		SELECT p.id, p.name, p.company_id, p.end_date
		FROM projects p
		JOIN project_assignees pa ON pa.project_id = p.id
		WHERE pa.user_id=$1 AND p.end_date >= $2 AND p.end_date < $3
		ORDER BY p.end_date ASC
	`, userID, from, to)
}

func (s *PostgresStore) ListAssignedCampaignDeadlines(ctx context.Context, userID string, from, to time.Time) ([]Deadline, error) {
	return s.listDeadlines(ctx, DeadlineCampaign, `
		SELECT c.id, c.name, c.company_id, c.end_date
		FROM campaigns c
		JOIN campaign_assignees ca ON ca.campaign_id = c.id
		WHERE ca.user_id=$1 AND c.end_date >= $2 AND c.end_date < $3
		ORDER BY c.end_date ASC
	`, userID, from, to)
}

// ListAssignedMilestoneDeadlines covers milestones of projects the user is
// assigned to.
func (s *PostgresStore) ListAssignedMilestoneDeadlines(ctx context.Context, userID string, from, to time.Time) ([]Deadline, error) {
	return s.listDeadlines(ctx, DeadlineMilestone, `
		SELECT m.id, m.name, m.project_id, m.due_date
		FROM project_milestones m
		JOIN project_assignees pa ON pa.project_id = m.project_id
		WHERE pa.user_id=$1 AND m.completed_at IS NULL AND m.due_date >= $2 AND m.due_date < $3
		ORDER BY m.due_date ASC
	`, userID, from, to)
}

func (s *PostgresStore) listDeadlines(ctx context.Context, kind DeadlineKind, query string, args ...any) ([]Deadline, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s deadlines: %w", kind, err)
	}
	defer rows.Close()

	items := make([]Deadline, 0)
	for rows.Next() {
		item := Deadline{Kind: kind}
		if err := rows.Scan(&item.ID, &item.Title, &item.ParentID, &item.DueAt); err != nil {
			return nil, fmt.Errorf("scan %s deadline: %w", kind, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s deadlines: %w", kind, err)
	}
	return items, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return []string{}
	}
	return strings.Split(value, ",")
}
