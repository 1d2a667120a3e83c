package app

import (
	"context"
	"database/sql"
	"io"
	"sync"
	"testing"
	"time"

	"customerportal/api/internal/auth"
	"customerportal/api/internal/config"
	"customerportal/api/internal/realtime"
	"customerportal/api/internal/store"
)

const testSecret = "test-secret"

type fakeStore struct {
	getAdFn             func(context.Context, string) (store.Ad, error)
	getCampaignFn       func(context.Context, string) (store.Campaign, error)
	listAdCommentsFn    func(context.Context, string) ([]store.AdComment, error)
	getAdCommentFn      func(context.Context, string, string) (store.AdComment, error)
	insertAdCommentFn   func(context.Context, store.AdComment) (store.AdComment, error)
	resolveAdCommentFn  func(context.Context, string, string, string) (bool, error)
	deleteAdCommentFn   func(context.Context, string, string) (bool, error)
	replaceAdMediaFn    func(context.Context, string, string, string) (store.Ad, error)
	updateAdApprovalFn  func(context.Context, string, store.ApprovalChange) (store.Ad, bool, error)
	insertMediaUploadFn func(context.Context, store.MediaUpload) error

	listProjectsFn          func(context.Context) ([]store.Project, error)
	listProjectTasksFn      func(context.Context, string) ([]store.Task, error)
	listProjectMilestonesFn func(context.Context, string) ([]store.Milestone, error)
	listAllMilestonesFn     func(context.Context) ([]store.Milestone, error)
	listCampaignAdsFn       func(context.Context, string) ([]store.Ad, error)

	listTaskDeadlinesFn      func(context.Context, string, time.Time, time.Time) ([]store.Deadline, error)
	listProjectDeadlinesFn   func(context.Context, string, time.Time, time.Time) ([]store.Deadline, error)
	listCampaignDeadlinesFn  func(context.Context, string, time.Time, time.Time) ([]store.Deadline, error)
	listMilestoneDeadlinesFn func(context.Context, string, time.Time, time.Time) ([]store.Deadline, error)

	pingFn func(context.Context) error
}

func (f *fakeStore) GetAd(ctx context.Context, adID string) (store.Ad, error) {
	if f.getAdFn != nil {
		return f.getAdFn(ctx, adID)
	}
	return store.Ad{}, sql.ErrNoRows
}

func (f *fakeStore) GetCampaign(ctx context.Context, campaignID string) (store.Campaign, error) {
	if f.getCampaignFn != nil {
		return f.getCampaignFn(ctx, campaignID)
	}
	return store.Campaign{}, sql.ErrNoRows
}

func (f *fakeStore) ListAdComments(ctx context.Context, adID string) ([]store.AdComment, error) {
	if f.listAdCommentsFn != nil {
		return f.listAdCommentsFn(ctx, adID)
	}
	return nil, nil
}

func (f *fakeStore) GetAdComment(ctx context.Context, adID, commentID string) (store.AdComment, error) {
	if f.getAdCommentFn != nil {
		return f.getAdCommentFn(ctx, adID, commentID)
	}
	return store.AdComment{}, sql.ErrNoRows
}

func (f *fakeStore) InsertAdComment(ctx context.Context, comment store.AdComment) (store.AdComment, error) {
	if f.insertAdCommentFn != nil {
		return f.insertAdCommentFn(ctx, comment)
	}
	return comment, nil
}

func (f *fakeStore) ResolveAdComment(ctx context.Context, adID, commentID, resolvedBy string) (bool, error) {
	if f.resolveAdCommentFn != nil {
		return f.resolveAdCommentFn(ctx, adID, commentID, resolvedBy)
	}
	return false, nil
}

func (f *fakeStore) DeleteAdComment(ctx context.Context, adID, commentID string) (bool, error) {
	if f.deleteAdCommentFn != nil {
		return f.deleteAdCommentFn(ctx, adID, commentID)
	}
	return false, nil
}

func (f *fakeStore) ReplaceAdMedia(ctx context.Context, adID, fileURL, fileType string) (store.Ad, error) {
	if f.replaceAdMediaFn != nil {
		return f.replaceAdMediaFn(ctx, adID, fileURL, fileType)
	}
	return store.Ad{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateAdApproval(ctx context.Context, adID string, change store.ApprovalChange) (store.Ad, bool, error) {
	if f.updateAdApprovalFn != nil {
		return f.updateAdApprovalFn(ctx, adID, change)
	}
	return store.Ad{}, false, nil
}

func (f *fakeStore) InsertMediaUpload(ctx context.Context, upload store.MediaUpload) error {
	if f.insertMediaUploadFn != nil {
		return f.insertMediaUploadFn(ctx, upload)
	}
	return nil
}

func (f *fakeStore) ListProjects(ctx context.Context) ([]store.Project, error) {
	if f.listProjectsFn != nil {
		return f.listProjectsFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) ListProjectTasks(ctx context.Context, projectID string) ([]store.Task, error) {
	if f.listProjectTasksFn != nil {
		return f.listProjectTasksFn(ctx, projectID)
	}
	return nil, nil
}

func (f *fakeStore) ListProjectMilestones(ctx context.Context, projectID string) ([]store.Milestone, error) {
	if f.listProjectMilestonesFn != nil {
		return f.listProjectMilestonesFn(ctx, projectID)
	}
	return nil, nil
}

func (f *fakeStore) ListAllMilestones(ctx context.Context) ([]store.Milestone, error) {
	if f.listAllMilestonesFn != nil {
		return f.listAllMilestonesFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) ListCampaignAds(ctx context.Context, campaignID string) ([]store.Ad, error) {
	if f.listCampaignAdsFn != nil {
		return f.listCampaignAdsFn(ctx, campaignID)
	}
	return nil, nil
}

func (f *fakeStore) ListAssignedTaskDeadlines(ctx context.Context, userID string, from, to time.Time) ([]store.Deadline, error) {
	if f.listTaskDeadlinesFn != nil {
		return f.listTaskDeadlinesFn(ctx, userID, from, to)
	}
	return nil, nil
}

func (f *fakeStore) ListAssignedProjectDeadlines(ctx context.Context, userID string, from, to time.Time) ([]store.Deadline, error) {
	if f.listProjectDeadlinesFn != nil {
		return f.listProjectDeadlinesFn(ctx, userID, from, to)
	}
	return nil, nil
}

func (f *fakeStore) ListAssignedCampaignDeadlines(ctx context.Context, userID string, from, to time.Time) ([]store.Deadline, error) {
	if f.listCampaignDeadlinesFn != nil {
		return f.listCampaignDeadlinesFn(ctx, userID, from, to)
	}
	return nil, nil
}

func (f *fakeStore) ListAssignedMilestoneDeadlines(ctx context.Context, userID string, from, to time.Time) ([]store.Deadline, error) {
	if f.listMilestoneDeadlinesFn != nil {
		return f.listMilestoneDeadlinesFn(ctx, userID, from, to)
	}
	return nil, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeObjects struct {
	mu       sync.Mutex
	uploaded []string
	bodies   map[string]string
	removed  []string
}

func (f *fakeObjects) Upload(_ context.Context, objectName, _ string, body io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bodies == nil {
		f.bodies = map[string]string{}
	}
	f.uploaded = append(f.uploaded, objectName)
	f.bodies[objectName] = string(data)
	return "https://media.test/" + objectName, nil
}

func (f *fakeObjects) Remove(_ context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, objectName)
	return nil
}

type memoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func (m *memoryRevocations) Revoke(_ context.Context, jti string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revoked == nil {
		m.revoked = map[string]time.Time{}
	}
	m.revoked[jti] = exp
	return nil
}

func (m *memoryRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event realtime.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) tables() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Table)
	}
	return out
}

func newTestService(fs *fakeStore) *Service {
	return newTestServiceWithObjects(fs, &fakeObjects{})
}

func newTestServiceWithObjects(fs *fakeStore, objects *fakeObjects) *Service {
	return New(config.Config{JWTSecret: testSecret, CacheTTL: time.Minute}, Deps{
		Store:       fs,
		Objects:     objects,
		Revocations: &memoryRevocations{},
	})
}

func issueTestToken(t *testing.T, role string) string {
	t.Helper()
	token, _, err := auth.IssueDevToken([]byte(testSecret), "user-1", "Avery", role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
