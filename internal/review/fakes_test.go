package review

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"customerportal/api/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	ads       map[string]store.Ad
	campaigns map[string]store.Campaign
	comments  map[string]store.AdComment
	uploads   []store.MediaUpload

	reads     int
	mutations int

	replaceErr error
	auditErr   error
	// resolveGate, when set, blocks ResolveAdComment until closed.
	resolveGate chan struct{}
	resolving   chan struct{}
	// approvalGate blocks UpdateAdApproval the same way; approving receives
	// one value per blocked call.
	approvalGate chan struct{}
	approving    chan struct{}
	deleteGate   chan struct{}
	deleting     chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ads:       map[string]store.Ad{},
		campaigns: map[string]store.Campaign{},
		comments:  map[string]store.AdComment{},
	}
}

func (f *fakeStore) addAd(ad store.Ad) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ads[ad.ID] = ad
}

func (f *fakeStore) addCampaign(campaign store.Campaign) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[campaign.ID] = campaign
}

func (f *fakeStore) addComment(comment store.AdComment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[comment.ID] = comment
}

func (f *fakeStore) ad(id string) store.Ad {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ads[id]
}

func (f *fakeStore) comment(id string) (store.AdComment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[id]
	return c, ok
}

func (f *fakeStore) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

func (f *fakeStore) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeStore) commentsFor(adID string) []store.AdComment {
	items := []store.AdComment{}
	for _, c := range f.comments {
		if c.AdID == adID {
			items = append(items, c)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (f *fakeStore) GetAd(_ context.Context, adID string) (store.Ad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	ad, ok := f.ads[adID]
	if !ok {
		return store.Ad{}, sql.ErrNoRows
	}
	return ad, nil
}

func (f *fakeStore) GetCampaign(_ context.Context, campaignID string) (store.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	campaign, ok := f.campaigns[campaignID]
	if !ok {
		return store.Campaign{}, sql.ErrNoRows
	}
	return campaign, nil
}

func (f *fakeStore) ListAdComments(_ context.Context, adID string) ([]store.AdComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commentsFor(adID), nil
}

func (f *fakeStore) GetAdComment(_ context.Context, adID, commentID string) (store.AdComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[commentID]
	if !ok || c.AdID != adID {
		return store.AdComment{}, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) InsertAdComment(_ context.Context, comment store.AdComment) (store.AdComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	comment.CreatedAt = time.Now()
	f.comments[comment.ID] = comment
	return comment, nil
}

func (f *fakeStore) ResolveAdComment(_ context.Context, adID, commentID, resolvedBy string) (bool, error) {
	if f.resolveGate != nil {
		close(f.resolving)
		<-f.resolveGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	c, ok := f.comments[commentID]
	if !ok || c.AdID != adID || c.IsResolved || !c.IsRoot() {
		return false, nil
	}
	now := time.Now()
	c.IsResolved = true
	c.ResolvedBy = &resolvedBy
	c.ResolvedAt = &now
	f.comments[commentID] = c
	return true, nil
}

func (f *fakeStore) DeleteAdComment(_ context.Context, adID, commentID string) (bool, error) {
	if f.deleteGate != nil {
		f.deleting <- struct{}{}
		<-f.deleteGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	c, ok := f.comments[commentID]
	if !ok || c.AdID != adID {
		return false, nil
	}
	delete(f.comments, commentID)
	for id, reply := range f.comments {
		if reply.ParentCommentID != nil && *reply.ParentCommentID == commentID {
			delete(f.comments, id)
		}
	}
	return true, nil
}

func (f *fakeStore) ReplaceAdMedia(_ context.Context, adID, fileURL, fileType string) (store.Ad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	if f.replaceErr != nil {
		return store.Ad{}, f.replaceErr
	}
	ad, ok := f.ads[adID]
	if !ok {
		return store.Ad{}, sql.ErrNoRows
	}
	for _, c := range f.commentsFor(adID) {
		if c.IsRoot() && !c.IsResolved {
			return store.Ad{}, store.ErrUnresolvedComments
		}
	}
	if ad.ApprovalStatus == store.ApprovalApproved {
		return store.Ad{}, store.ErrAdApproved
	}
	if f.campaigns[ad.CampaignID].IsLocked() {
		return store.Ad{}, store.ErrCampaignLocked
	}
	ad.FileURL = fileURL
	ad.FileType = fileType
	ad.ApprovalStatus = store.ApprovalDraft
	ad.ApprovedBy = nil
	ad.ApprovedAt = nil
	ad.RejectionReason = nil
	f.ads[adID] = ad
	for id, c := range f.comments {
		if c.AdID == adID {
			delete(f.comments, id)
		}
	}
	return ad, nil
}

func (f *fakeStore) UpdateAdApproval(_ context.Context, adID string, change store.ApprovalChange) (store.Ad, bool, error) {
	if f.approvalGate != nil {
		f.approving <- struct{}{}
		<-f.approvalGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	ad, ok := f.ads[adID]
	if !ok || ad.ApprovalStatus != change.From {
		return store.Ad{}, false, nil
	}
	ad.ApprovalStatus = change.To
	ad.ApprovedBy = change.ApprovedBy
	ad.ApprovedAt = nil
	if change.ApprovedBy != nil {
		now := time.Now()
		ad.ApprovedAt = &now
	}
	ad.RejectionReason = change.RejectionReason
	f.ads[adID] = ad
	return ad, true, nil
}

func (f *fakeStore) InsertMediaUpload(_ context.Context, upload store.MediaUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return f.auditErr
	}
	f.uploads = append(f.uploads, upload)
	return nil
}

type fakeObjects struct {
	mu        sync.Mutex
	uploaded  []string
	removed   []string
	uploadErr error
	// uploadGate, when set, blocks Upload until closed; uploading receives
	// one value per blocked call.
	uploadGate chan struct{}
	uploading  chan struct{}
}

func (f *fakeObjects) Upload(_ context.Context, objectName, _ string, body io.Reader, _ int64) (string, error) {
	if f.uploadGate != nil {
		f.uploading <- struct{}{}
		<-f.uploadGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	f.uploaded = append(f.uploaded, objectName)
	return "https://cdn.test/" + objectName, nil
}

func (f *fakeObjects) Remove(_ context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, objectName)
	return nil
}

func (f *fakeObjects) removedObjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func (f *fakeObjects) uploadedObjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploaded...)
}

func (f *fakeObjects) uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploaded)
}

var errBackend = errors.New("connection reset by peer")
