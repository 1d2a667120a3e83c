package app

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"customerportal/api/internal/auth"
	"customerportal/api/internal/calendar"
	"customerportal/api/internal/config"
	"customerportal/api/internal/querycache"
	"customerportal/api/internal/rbac"
	"customerportal/api/internal/realtime"
	"customerportal/api/internal/review"
	"customerportal/api/internal/session"
	"customerportal/api/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	CompanyID string
	JTI       string
	ExpiresAt time.Time
}

func (s Session) Actor() review.Actor {
	return review.Actor{ID: s.UserID, Name: s.UserName, Role: rbac.Normalize(s.Role)}
}

type dataStore interface {
	review.Store
	calendar.Store
	ListProjects(ctx context.Context) ([]store.Project, error)
	ListProjectTasks(ctx context.Context, projectID string) ([]store.Task, error)
	ListProjectMilestones(ctx context.Context, projectID string) ([]store.Milestone, error)
	ListAllMilestones(ctx context.Context) ([]store.Milestone, error)
	ListCampaignAds(ctx context.Context, campaignID string) ([]store.Ad, error)
	Ping(ctx context.Context) error
}

type Service struct {
	cfg         config.Config
	store       dataStore
	loader      *querycache.Loader
	workflow    *review.Workflow
	calendar    *calendar.Calendar
	revocations session.Revocations
	// echo, when set, republishes this process's own writes as change
	// events. Used when no database change feed is running.
	echo   realtime.Publisher
	logger *zap.Logger
	now    func() time.Time
}

type Deps struct {
	Store       dataStore
	Objects     review.ObjectStorage
	Cache       querycache.Cache
	Revocations session.Revocations
	Echo        realtime.Publisher
	Logger      *zap.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := deps.Cache
	if cache == nil {
		cache = querycache.NewMemory(cfg.CacheTTL)
	}
	revocations := deps.Revocations
	if revocations == nil {
		revocations = noRevocations{}
	}
	loader := querycache.NewLoader(cache, logger)
	return &Service{
		cfg:         cfg,
		store:       deps.Store,
		loader:      loader,
		workflow:    review.NewWorkflow(deps.Store, deps.Objects, loader, logger.Named("review")),
		calendar:    calendar.New(deps.Store, loader, cfg.CalendarWindow),
		revocations: revocations,
		echo:        deps.Echo,
		logger:      logger,
		now:         time.Now,
	}
}

type noRevocations struct{}

func (noRevocations) Revoke(context.Context, string, time.Time) error  { return nil }
func (noRevocations) IsRevoked(context.Context, string) (bool, error) { return false, nil }

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseTokenAt([]byte(s.cfg.JWTSecret), token, s.now())
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      string(rbac.Normalize(claims.Role)),
		CompanyID: claims.CompanyID,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.revocations.Revoke(ctx, session.JTI, session.ExpiresAt)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Project badges, derived from the project's milestones.
const (
	BadgeNoMilestones = "no_milestones"
	BadgeOnTrack      = "on_track"
	BadgeAtRisk       = "at_risk"
	BadgeOverdue      = "overdue"
	BadgeCompleted    = "completed"
)

const atRiskWindow = 7 * 24 * time.Hour

type ProjectOverview struct {
	Project             store.Project
	Badge               string
	MilestonesTotal     int
	MilestonesCompleted int
	NextMilestone       *store.Milestone
}

// ProjectsOverview combines the cached project list with the cached set of
// every milestone, so a milestone change refreshes the badges.
func (s *Service) ProjectsOverview(ctx context.Context) ([]ProjectOverview, error) {
	projects, err := querycache.Fetch(ctx, s.loader, querycache.NewKey(querycache.DomainProjects), s.store.ListProjects)
	if err != nil {
		return nil, err
	}
	milestones, err := querycache.Fetch(ctx, s.loader, querycache.NewKey(querycache.DomainAllMilestones), s.store.ListAllMilestones)
	if err != nil {
		return nil, err
	}

	byProject := map[string][]store.Milestone{}
	for _, m := range milestones {
		byProject[m.ProjectID] = append(byProject[m.ProjectID], m)
	}
	now := s.now()
	items := make([]ProjectOverview, 0, len(projects))
	for _, project := range projects {
		items = append(items, overview(project, byProject[project.ID], now))
	}
	return items, nil
}

func overview(project store.Project, milestones []store.Milestone, now time.Time) ProjectOverview {
	item := ProjectOverview{Project: project, MilestonesTotal: len(milestones), Badge: BadgeNoMilestones}
	if len(milestones) == 0 {
		return item
	}

	open := make([]store.Milestone, 0, len(milestones))
	for _, m := range milestones {
		if m.CompletedAt != nil {
			item.MilestonesCompleted++
			continue
		}
		open = append(open, m)
	}
	if len(open) == 0 {
		item.Badge = BadgeCompleted
		return item
	}

	sort.SliceStable(open, func(i, j int) bool {
		if open[i].DueDate == nil {
			return false
		}
		if open[j].DueDate == nil {
			return true
		}
		return open[i].DueDate.Before(*open[j].DueDate)
	})
	next := open[0]
	item.NextMilestone = &next
	item.Badge = BadgeOnTrack
	if next.DueDate != nil {
		switch {
		case next.DueDate.Before(now):
			item.Badge = BadgeOverdue
		case next.DueDate.Before(now.Add(atRiskWindow)):
			item.Badge = BadgeAtRisk
		}
	}
	return item
}

func (s *Service) ProjectTasks(ctx context.Context, projectID string) ([]store.Task, error) {
	key := querycache.NewKey(querycache.DomainProjectTasks, projectID)
	return querycache.Fetch(ctx, s.loader, key, func(ctx context.Context) ([]store.Task, error) {
		return s.store.ListProjectTasks(ctx, projectID)
	})
}

func (s *Service) ProjectMilestones(ctx context.Context, projectID string) ([]store.Milestone, error) {
	key := querycache.NewKey(querycache.DomainProjectMilestones, projectID)
	return querycache.Fetch(ctx, s.loader, key, func(ctx context.Context) ([]store.Milestone, error) {
		return s.store.ListProjectMilestones(ctx, projectID)
	})
}

func (s *Service) CampaignAds(ctx context.Context, campaignID string) ([]store.Ad, error) {
	key := querycache.NewKey(querycache.DomainCampaignAds, campaignID)
	return querycache.Fetch(ctx, s.loader, key, func(ctx context.Context) ([]store.Ad, error) {
		return s.store.ListCampaignAds(ctx, campaignID)
	})
}

func (s *Service) UpcomingDeadlines(ctx context.Context, session Session) ([]store.Deadline, error) {
	return s.calendar.Upcoming(ctx, session.UserID)
}

func (s *Service) AdReview(ctx context.Context, session Session, adID string) (review.State, error) {
	return s.workflow.Review(ctx, session.Actor(), adID)
}

type AddCommentInput struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Text            string  `json:"text"`
	ParentCommentID string  `json:"parentCommentId"`
}

func (s *Service) AddComment(ctx context.Context, session Session, adID string, input AddCommentInput) (store.AdComment, error) {
	comment, err := s.workflow.AddComment(ctx, session.Actor(), review.CommentInput{
		AdID:            adID,
		X:               input.X,
		Y:               input.Y,
		Text:            input.Text,
		ParentCommentID: input.ParentCommentID,
	})
	if err != nil {
		return store.AdComment{}, err
	}
	s.publish(ctx, realtime.ChangeEvent{Table: "ad_comments", Operation: realtime.OpInsert,
		After: realtime.Record{"id": comment.ID, "ad_id": comment.AdID}})
	return comment, nil
}

func (s *Service) ResolveComment(ctx context.Context, session Session, adID, commentID string) (store.AdComment, error) {
	comment, err := s.workflow.ResolveComment(ctx, session.Actor(), adID, commentID)
	if err != nil {
		return store.AdComment{}, err
	}
	s.publish(ctx, realtime.ChangeEvent{Table: "ad_comments", Operation: realtime.OpUpdate,
		After: realtime.Record{"id": comment.ID, "ad_id": comment.AdID, "is_resolved": true}})
	return comment, nil
}

func (s *Service) DeleteComment(ctx context.Context, session Session, adID, commentID string) error {
	if err := s.workflow.DeleteComment(ctx, session.Actor(), adID, commentID); err != nil {
		return err
	}
	s.publish(ctx, realtime.ChangeEvent{Table: "ad_comments", Operation: realtime.OpDelete,
		Before: realtime.Record{"id": commentID, "ad_id": adID}})
	return nil
}

type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func (s *Service) ReplaceMedia(ctx context.Context, session Session, adID string, upload UploadInput) (store.Ad, error) {
	ad, err := s.workflow.ReplaceMedia(ctx, session.Actor(), review.MediaInput{
		AdID:        adID,
		Filename:    upload.Filename,
		ContentType: upload.ContentType,
		Size:        upload.Size,
		Body:        upload.Body,
	})
	if err != nil {
		return store.Ad{}, err
	}
	s.publishAd(ctx, ad)
	s.publish(ctx, realtime.ChangeEvent{Table: "ad_comments", Operation: realtime.OpDelete,
		Before: realtime.Record{"ad_id": ad.ID}})
	return ad, nil
}

func (s *Service) SubmitAd(ctx context.Context, session Session, adID string) (store.Ad, error) {
	return s.afterAdChange(ctx)(s.workflow.Submit(ctx, session.Actor(), adID))
}

func (s *Service) ApproveAd(ctx context.Context, session Session, adID string) (store.Ad, error) {
	return s.afterAdChange(ctx)(s.workflow.Approve(ctx, session.Actor(), adID))
}

func (s *Service) RejectAd(ctx context.Context, session Session, adID, reason string) (store.Ad, error) {
	return s.afterAdChange(ctx)(s.workflow.Reject(ctx, session.Actor(), adID, strings.TrimSpace(reason)))
}

func (s *Service) afterAdChange(ctx context.Context) func(store.Ad, error) (store.Ad, error) {
	return func(ad store.Ad, err error) (store.Ad, error) {
		if err != nil {
			return store.Ad{}, err
		}
		s.publishAd(ctx, ad)
		return ad, nil
	}
}

func (s *Service) publishAd(ctx context.Context, ad store.Ad) {
	s.publish(ctx, realtime.ChangeEvent{Table: "ads", Operation: realtime.OpUpdate,
		After: realtime.Record{"id": ad.ID, "campaign_id": ad.CampaignID, "approval_status": string(ad.ApprovalStatus)}})
}

func (s *Service) publish(ctx context.Context, event realtime.ChangeEvent) {
	if s.echo == nil {
		return
	}
	if err := s.echo.Publish(ctx, event); err != nil {
		s.logger.Warn("publish local change failed", zap.String("table", event.Table), zap.Error(err))
	}
}
