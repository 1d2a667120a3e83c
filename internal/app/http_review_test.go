package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"customerportal/api/internal/store"
)

// reviewFixture is a single ad, its campaign and its comment thread held in
// memory behind fakeStore.
type reviewFixture struct {
	mu       sync.Mutex
	ad       store.Ad
	campaign store.Campaign
	comments map[string]store.AdComment
	uploads  []store.MediaUpload
}

func newReviewFixture() *reviewFixture {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &reviewFixture{
		ad: store.Ad{
			ID:             "ad-1",
			CampaignID:     "cmp-1",
			Name:           "Spring hero",
			FileURL:        "https://media.test/ads/ad-1/original.png",
			FileType:       "image",
			ApprovalStatus: store.ApprovalPending,
			CreatedAt:      created,
			UpdatedAt:      created,
		},
		campaign: store.Campaign{ID: "cmp-1", CompanyID: "co-1", Name: "Spring", Status: store.CampaignInProgress},
		comments: map[string]store.AdComment{},
	}
}

func (f *reviewFixture) addComment(id string, resolved bool, parent string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment := store.AdComment{ID: id, AdID: f.ad.ID, X: 10, Y: 20, Text: "note " + id,
		AuthorID: "user-9", AuthorName: "Robin", IsResolved: resolved, CreatedAt: time.Date(2026, 3, 2, 0, 0, len(f.comments), 0, time.UTC)}
	if parent != "" {
		comment.ParentCommentID = &parent
	}
	f.comments[id] = comment
}

func (f *reviewFixture) fake() *fakeStore {
	return &fakeStore{
		getAdFn: func(_ context.Context, adID string) (store.Ad, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if adID != f.ad.ID {
				return store.Ad{}, sql.ErrNoRows
			}
			return f.ad, nil
		},
		getCampaignFn: func(_ context.Context, campaignID string) (store.Campaign, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if campaignID != f.campaign.ID {
				return store.Campaign{}, sql.ErrNoRows
			}
			return f.campaign, nil
		},
		listAdCommentsFn: func(_ context.Context, adID string) ([]store.AdComment, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			out := make([]store.AdComment, 0, len(f.comments))
			for _, c := range f.comments {
				if c.AdID == adID {
					out = append(out, c)
				}
			}
			sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
			return out, nil
		},
		getAdCommentFn: func(_ context.Context, adID, commentID string) (store.AdComment, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			c, ok := f.comments[commentID]
			if !ok || c.AdID != adID {
				return store.AdComment{}, sql.ErrNoRows
			}
			return c, nil
		},
		insertAdCommentFn: func(_ context.Context, comment store.AdComment) (store.AdComment, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			comment.CreatedAt = time.Date(2026, 3, 3, 0, 0, len(f.comments), 0, time.UTC)
			f.comments[comment.ID] = comment
			return comment, nil
		},
		resolveAdCommentFn: func(_ context.Context, adID, commentID, resolvedBy string) (bool, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			c, ok := f.comments[commentID]
			if !ok || c.AdID != adID || c.IsResolved {
				return false, nil
			}
			now := time.Now()
			c.IsResolved = true
			c.ResolvedBy = &resolvedBy
			c.ResolvedAt = &now
			f.comments[commentID] = c
			return true, nil
		},
		deleteAdCommentFn: func(_ context.Context, adID, commentID string) (bool, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
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
		},
		replaceAdMediaFn: func(_ context.Context, adID, fileURL, fileType string) (store.Ad, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			for _, c := range f.comments {
				if c.IsRoot() && !c.IsResolved {
					return store.Ad{}, store.ErrUnresolvedComments
				}
			}
			if f.ad.ApprovalStatus == store.ApprovalApproved {
				return store.Ad{}, store.ErrAdApproved
			}
			f.ad.FileURL = fileURL
			f.ad.FileType = fileType
			f.ad.ApprovalStatus = store.ApprovalDraft
			f.ad.ApprovedBy = nil
			f.ad.RejectionReason = nil
			f.comments = map[string]store.AdComment{}
			return f.ad, nil
		},
		updateAdApprovalFn: func(_ context.Context, adID string, change store.ApprovalChange) (store.Ad, bool, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.ad.ApprovalStatus != change.From {
				return store.Ad{}, false, nil
			}
			f.ad.ApprovalStatus = change.To
			f.ad.ApprovedBy = change.ApprovedBy
			if change.RejectionReason != nil && *change.RejectionReason != "" {
				f.ad.RejectionReason = change.RejectionReason
			}
			return f.ad, true, nil
		},
		insertMediaUploadFn: func(_ context.Context, upload store.MediaUpload) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.uploads = append(f.uploads, upload)
			return nil
		},
	}
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token, contentType string, body *bytes.Buffer) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, payload
}

func mediaForm(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestReviewRouteReportsMediaGate(t *testing.T) {
	fixture := newReviewFixture()
	fixture.addComment("c1", false, "")
	server := NewHTTPServer(newTestService(fixture.fake()), "*", nil)

	rr, payload := doRequest(t, server, http.MethodGet, "/api/ads/ad-1/review", issueTestToken(t, "member"), "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["hasUnresolvedComments"] != true {
		t.Fatalf("expected unresolved comments, got %v", payload["hasUnresolvedComments"])
	}
	if payload["canReplaceMedia"] != false {
		t.Fatalf("expected media replacement to be blocked")
	}
	if payload["replaceMediaBlockedReason"] != "Resolve comments before replacing media" {
		t.Fatalf("unexpected blocked reason %v", payload["replaceMediaBlockedReason"])
	}
	comments, _ := payload["comments"].([]any)
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(comments))
	}
}

func TestReviewRouteForViewerCannotReplaceMedia(t *testing.T) {
	fixture := newReviewFixture()
	server := NewHTTPServer(newTestService(fixture.fake()), "*", nil)

	_, payload := doRequest(t, server, http.MethodGet, "/api/ads/ad-1/review", issueTestToken(t, "viewer"), "", nil)
	if payload["canReplaceMedia"] != false || payload["canAddComment"] != false {
		t.Fatalf("viewer should not comment or replace media: %v", payload)
	}
	if payload["replaceMediaBlockedReason"] != "You do not have permission to replace media" {
		t.Fatalf("unexpected blocked reason %v", payload["replaceMediaBlockedReason"])
	}
}

func TestReviewRouteUnknownAdReturnsNotFound(t *testing.T) {
	server := NewHTTPServer(newTestService(newReviewFixture().fake()), "*", nil)

	rr, payload := doRequest(t, server, http.MethodGet, "/api/ads/ad-missing/review", issueTestToken(t, "member"), "", nil)
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %v", rr.Code, payload)
	}
}

func TestResolveThenReplaceMediaFlow(t *testing.T) {
	fixture := newReviewFixture()
	fixture.addComment("c1", false, "")
	objects := &fakeObjects{}
	server := NewHTTPServer(newTestServiceWithObjects(fixture.fake(), objects), "*", nil)
	token := issueTestToken(t, "member")

	body, contentType := mediaForm(t, "hero.png", "image/png", []byte("png-bytes"))
	rr, payload := doRequest(t, server, http.MethodPost, "/api/ads/ad-1/media", token, contentType, body)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409 while comments are open, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["code"] != "PRECONDITION_FAILED" {
		t.Fatalf("expected PRECONDITION_FAILED, got %v", payload["code"])
	}
	details, _ := payload["details"].(map[string]any)
	if details["reason"] != "Resolve comments before replacing media" {
		t.Fatalf("unexpected reason %v", details["reason"])
	}
	if len(objects.uploaded) != 0 {
		t.Fatalf("expected no upload before the gate passes, got %v", objects.uploaded)
	}

	rr, payload = doRequest(t, server, http.MethodPost, "/api/ads/ad-1/comments/c1/resolve", token, "", nil)
	if rr.Code != http.StatusOK || payload["isResolved"] != true {
		t.Fatalf("expected resolved comment, got %d %v", rr.Code, payload)
	}

	body, contentType = mediaForm(t, "hero.png", "image/png", []byte("png-bytes"))
	rr, payload = doRequest(t, server, http.MethodPost, "/api/ads/ad-1/media", token, contentType, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(objects.uploaded) != 1 || !strings.HasPrefix(objects.uploaded[0], "ads/ad-1/") || !strings.HasSuffix(objects.uploaded[0], ".png") {
		t.Fatalf("unexpected uploads %v", objects.uploaded)
	}
	if payload["fileUrl"] != "https://media.test/"+objects.uploaded[0] {
		t.Fatalf("expected new file url, got %v", payload["fileUrl"])
	}
	if payload["approvalStatus"] != "draft" {
		t.Fatalf("expected draft after media change, got %v", payload["approvalStatus"])
	}
	if len(fixture.uploads) != 1 || fixture.uploads[0].UploadedBy != "user-1" {
		t.Fatalf("expected audit row, got %+v", fixture.uploads)
	}
}

func TestReplaceMediaSniffsContentType(t *testing.T) {
	fixture := newReviewFixture()
	objects := &fakeObjects{}
	server := NewHTTPServer(newTestServiceWithObjects(fixture.fake(), objects), "*", nil)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	body, contentType := mediaForm(t, "hero", "application/octet-stream", png)
	rr, payload := doRequest(t, server, http.MethodPost, "/api/ads/ad-1/media", issueTestToken(t, "member"), contentType, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["fileType"] != "image" {
		t.Fatalf("expected image file type, got %v", payload["fileType"])
	}
	if got := objects.bodies[objects.uploaded[0]]; got != string(png) {
		t.Fatalf("uploaded body was not rewound after sniffing: %q", got)
	}
}

func TestReplaceMediaRejectsNonMedia(t *testing.T) {
	fixture := newReviewFixture()
	server := NewHTTPServer(newTestService(fixture.fake()), "*", nil)

	body, contentType := mediaForm(t, "notes.txt", "text/plain", []byte("hello"))
	rr, payload := doRequest(t, server, http.MethodPost, "/api/ads/ad-1/media", issueTestToken(t, "member"), contentType, body)
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %v", rr.Code, payload)
	}
}

func TestReplaceMediaTooLarge(t *testing.T) {
	fixture := newReviewFixture()
	svc := newTestService(fixture.fake())
	svc.cfg.MaxUploadBytes = 8
	server := NewHTTPServer(svc, "*", nil)

	body, contentType := mediaForm(t, "hero.png", "image/png", bytes.Repeat([]byte("x"), 64))
	rr, payload := doRequest(t, server, http.MethodPost, "/api/ads/ad-1/media", issueTestToken(t, "member"), contentType, body)
	if rr.Code != http.StatusRequestEntityTooLarge || payload["code"] != "FILE_TOO_LARGE" {
		t.Fatalf("expected 413 FILE_TOO_LARGE, got %d %v", rr.Code, payload)
	}
}

func TestReplaceMediaForbiddenForClient(t *testing.T) {
	fixture := newReviewFixture()
	server := NewHTTPServer(newTestService(fixture.fake()), "*", nil)

	body, contentType := mediaForm(t, "hero.png", "image/png", []byte("png"))
	rr, payload := doRequest(t, server, http.MethodPost, "/api/ads/ad-1/media", issueTestToken(t, "client"), contentType, body)
	if rr.Code != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN, got %d %v", rr.Code, payload)
	}
}

func TestAddCommentRoute(t *testing.T) {
	fixture := newReviewFixture()
	server := NewHTTPServer(newTestService(fixture.fake()), "*", nil)
	token := issueTestToken(t, "client")

	rr, payload := doRequest(t, server, http.MethodPost, "/api/ads/ad-1/comments", token, "application/json",
		bytes.NewBufferString(`{"x":42.5,"y":10,"text":"  Logo is too small  "}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["text"] != "Logo is too small" || payload["authorName"] != "Avery" || payload["isResolved"] != false {
		t.Fatalf("unexpected comment %v", payload)
	}
	rootID, _ := payload["id"].(string)

	rr, payload = doRequest(t, server, http.MethodPost, "/api/ads/ad-1/comments", token, "application/json",
		bytes.NewBufferString(`{"x":42.5,"y":10,"text":"agreed","parentCommentId":"`+rootID+`"}`))
	if rr.Code != http.StatusCreated || payload["parentCommentId"] != rootID {
		t.Fatalf("expected reply, got %d %v", rr.Code, payload)
	}
	replyID, _ := payload["id"].(string)

	rr, payload = doRequest(t, server, http.MethodPost, "/api/ads/ad-1/comments", token, "application/json",
		bytes.NewBufferString(`{"x":1,"y":1,"text":"nested","parentCommentId":"`+replyID+`"}`))
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected nested reply to be rejected, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, server, http.MethodPost, "/api/ads/ad-1/comments", token, "application/json",
		bytes.NewBufferString(`{"x":150,"y":1,"text":"off canvas"}`))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected position validation, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, server, http.MethodPost, "/api/ads/ad-1/comments", token, "application/json",
		bytes.NewBufferString(`{"x":`))
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected INVALID_BODY, got %d %v", rr.Code, payload)
	}
}

func TestAddCommentForbiddenForViewer(t *testing.T) {
	server := NewHTTPServer(newTestService(newReviewFixture().fake()), "*", nil)

	rr, payload := doRequest(t, server, http.MethodPost, "/api/ads/ad-1/comments", issueTestToken(t, "viewer"), "application/json",
		bytes.NewBufferString(`{"x":1,"y":1,"text":"hi"}`))
	if rr.Code != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN, got %d %v", rr.Code, payload)
	}
}

func TestResolveReplyIsRefused(t *testing.T) {
	fixture := newReviewFixture()
	fixture.addComment("c1", false, "")
	fixture.addComment("r1", false, "c1")
	server := NewHTTPServer(newTestService(fixture.fake()), "*", nil)

	rr, payload := doRequest(t, server, http.MethodPost, "/api/ads/ad-1/comments/r1/resolve", issueTestToken(t, "member"), "", nil)
	if rr.Code != http.StatusConflict || payload["code"] != "PRECONDITION_FAILED" {
		t.Fatalf("expected 409 PRECONDITION_FAILED, got %d %v", rr.Code, payload)
	}
}

func TestDeleteCommentRoute(t *testing.T) {
	fixture := newReviewFixture()
	fixture.addComment("c1", false, "")
	server := NewHTTPServer(newTestService(fixture.fake()), "*", nil)

	// c1 belongs to user-9; a member who is not the author cannot moderate.
	rr, payload := doRequest(t, server, http.MethodDelete, "/api/ads/ad-1/comments/c1", issueTestToken(t, "member"), "", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, server, http.MethodDelete, "/api/ads/ad-1/comments/c1", issueTestToken(t, "admin"), "", nil)
	if rr.Code != http.StatusOK || payload["ok"] != true {
		t.Fatalf("expected admin delete to succeed, got %d %v", rr.Code, payload)
	}
	if len(fixture.comments) != 0 {
		t.Fatalf("expected comment removed, got %v", fixture.comments)
	}
}

func TestApprovalTransitions(t *testing.T) {
	fixture := newReviewFixture()
	fixture.ad.ApprovalStatus = store.ApprovalDraft
	server := NewHTTPServer(newTestService(fixture.fake()), "*", nil)
	member := issueTestToken(t, "member")
	manager := issueTestToken(t, "manager")

	rr, payload := doRequest(t, server, http.MethodPost, "/api/ads/ad-1/approve", manager, "", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected draft approval to be refused, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, server, http.MethodPost, "/api/ads/ad-1/submit", member, "", nil)
	if rr.Code != http.StatusOK || payload["approvalStatus"] != "pending" {
		t.Fatalf("expected submit to succeed, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, server, http.MethodPost, "/api/ads/ad-1/approve", member, "", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected member approval to be forbidden, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, server, http.MethodPost, "/api/ads/ad-1/reject", manager, "application/json", bytes.NewBufferString(`{"reason":"  "}`))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected blank rejection reason to fail validation, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, server, http.MethodPost, "/api/ads/ad-1/approve", manager, "", nil)
	if rr.Code != http.StatusOK || payload["approvalStatus"] != "approved" || payload["approvedBy"] != "user-1" {
		t.Fatalf("expected approval, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, server, http.MethodGet, "/api/ads/ad-1/review", member, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected review, got %d %v", rr.Code, payload)
	}
	if payload["canAddComment"] != false || payload["replaceMediaBlockedReason"] != "Approved ads cannot have their media replaced" {
		t.Fatalf("approved ad should be closed to changes: %v", payload)
	}
}

func TestRejectRouteStoresReason(t *testing.T) {
	fixture := newReviewFixture()
	server := NewHTTPServer(newTestService(fixture.fake()), "*", nil)

	rr, payload := doRequest(t, server, http.MethodPost, "/api/ads/ad-1/reject", issueTestToken(t, "client"), "application/json",
		bytes.NewBufferString(`{"reason":"Wrong colours"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["approvalStatus"] != "rejected" || payload["rejectionReason"] != "Wrong colours" {
		t.Fatalf("unexpected ad %v", payload)
	}
}
