// Package review implements the ad approval workflow: comment markers on
// ad media, the draft/pending/approved/rejected state machine, and guarded
// media replacement.
package review

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"customerportal/api/internal/querycache"
	"customerportal/api/internal/rbac"
	"customerportal/api/internal/storage"
	"customerportal/api/internal/store"
	"customerportal/api/internal/util"
)

type Store interface {
	GetAd(ctx context.Context, adID string) (store.Ad, error)
	GetCampaign(ctx context.Context, campaignID string) (store.Campaign, error)
	ListAdComments(ctx context.Context, adID string) ([]store.AdComment, error)
	GetAdComment(ctx context.Context, adID, commentID string) (store.AdComment, error)
	InsertAdComment(ctx context.Context, comment store.AdComment) (store.AdComment, error)
	ResolveAdComment(ctx context.Context, adID, commentID, resolvedBy string) (bool, error)
	DeleteAdComment(ctx context.Context, adID, commentID string) (bool, error)
	ReplaceAdMedia(ctx context.Context, adID, fileURL, fileType string) (store.Ad, error)
	UpdateAdApproval(ctx context.Context, adID string, change store.ApprovalChange) (store.Ad, bool, error)
	InsertMediaUpload(ctx context.Context, upload store.MediaUpload) error
}

type ObjectStorage interface {
	Upload(ctx context.Context, objectName, contentType string, body io.Reader, size int64) (string, error)
	Remove(ctx context.Context, objectName string) error
}

// Actor is the authenticated caller. A zero ID means unauthenticated.
type Actor struct {
	ID   string
	Name string
	Role rbac.Role
}

func (a Actor) Authenticated() bool {
	return strings.TrimSpace(a.ID) != ""
}

func (a Actor) Can(action rbac.Action) bool {
	return a.Authenticated() && rbac.Can(a.Role, action)
}

// Snapshot is the actor-independent part of an ad's review state. It is
// what the ad-review cache key holds.
type Snapshot struct {
	Ad       store.Ad
	Campaign store.Campaign
	Comments []store.AdComment
}

type State struct {
	Ad                        store.Ad
	Campaign                  store.Campaign
	Comments                  []store.AdComment
	HasUnresolvedComments     bool
	CanAddComment             bool
	CanReplaceMedia           bool
	ReplaceMediaBlockedReason string
}

type CommentInput struct {
	AdID            string
	X               float64
	Y               float64
	Text            string
	ParentCommentID string
}

type MediaInput struct {
	AdID        string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Workflow struct {
	store   Store
	objects ObjectStorage
	loader  *querycache.Loader
	logger  *zap.Logger
	flights singleflight.Group
	now     func() time.Time
}

// NewWorkflow builds the workflow. loader may be nil, in which case review
// state is always read from the store.
func NewWorkflow(s Store, objects ObjectStorage, loader *querycache.Loader, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{store: s, objects: objects, loader: loader, logger: logger, now: time.Now}
}

// Review derives the review state of an ad for actor.
func (w *Workflow) Review(ctx context.Context, actor Actor, adID string) (State, error) {
	if !actor.Authenticated() {
		return State{}, errUnauthenticated
	}
	if !actor.Can(rbac.ActionRead) {
		return State{}, newError(KindUnauthorized, "you cannot view this ad")
	}

	load := func(ctx context.Context) (Snapshot, error) {
		return w.snapshot(ctx, adID)
	}
	var (
		snap Snapshot
		err  error
	)
	if w.loader != nil {
		snap, err = querycache.Fetch(ctx, w.loader, querycache.NewKey(querycache.DomainAdReview, adID), load)
	} else {
		snap, err = load(ctx)
	}
	if err != nil {
		return State{}, asError(err)
	}

	gate := MediaGate(actor.Can(rbac.ActionReplaceMedia), snap.Ad, snap.Campaign, snap.Comments)
	comments := snap.Comments
	if comments == nil {
		comments = []store.AdComment{}
	}
	return State{
		Ad:                        snap.Ad,
		Campaign:                  snap.Campaign,
		Comments:                  comments,
		HasUnresolvedComments:     HasUnresolvedRootComments(snap.Comments),
		CanAddComment:             CanAddComment(snap.Ad) && actor.Can(rbac.ActionComment),
		CanReplaceMedia:           gate.Allowed,
		ReplaceMediaBlockedReason: gate.Reason,
	}, nil
}

func (w *Workflow) snapshot(ctx context.Context, adID string) (Snapshot, error) {
	ad, err := w.store.GetAd(ctx, adID)
	if err != nil {
		return Snapshot{}, err
	}
	campaign, err := w.store.GetCampaign(ctx, ad.CampaignID)
	if err != nil {
		return Snapshot{}, err
	}
	comments, err := w.store.ListAdComments(ctx, adID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Ad: ad, Campaign: campaign, Comments: comments}, nil
}

func (w *Workflow) AddComment(ctx context.Context, actor Actor, input CommentInput) (store.AdComment, error) {
	if !actor.Authenticated() {
		return store.AdComment{}, errUnauthenticated
	}
	if !actor.Can(rbac.ActionComment) {
		return store.AdComment{}, newError(KindUnauthorized, "you cannot comment on this ad")
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return store.AdComment{}, newError(KindValidation, "comment text is required")
	}
	if !inPercentRange(input.X) || !inPercentRange(input.Y) {
		return store.AdComment{}, newError(KindValidation, "comment position must be between 0 and 100")
	}

	key := flightKey("comment", input.AdID, actor.ID, strings.TrimSpace(input.ParentCommentID), text)
	return doOnce(&w.flights, key, func() (store.AdComment, error) {
		ad, err := w.store.GetAd(ctx, input.AdID)
		if err != nil {
			return store.AdComment{}, asError(err)
		}
		if !CanAddComment(ad) {
			return store.AdComment{}, newError(KindPrecondition, "Approved ads cannot receive new comments")
		}

		comment := store.AdComment{
			ID:         util.NewID("cmt"),
			AdID:       ad.ID,
			X:          input.X,
			Y:          input.Y,
			Text:       text,
			AuthorID:   actor.ID,
			AuthorName: actor.Name,
		}
		if parentID := strings.TrimSpace(input.ParentCommentID); parentID != "" {
			parent, err := w.store.GetAdComment(ctx, ad.ID, parentID)
			if err != nil {
				if isNotFound(err) {
					return store.AdComment{}, newError(KindValidation, "parent comment does not belong to this ad")
				}
				return store.AdComment{}, asError(err)
			}
			if !parent.IsRoot() {
				return store.AdComment{}, newError(KindValidation, "replies cannot be nested")
			}
			comment.ParentCommentID = &parent.ID
		}

		created, err := w.store.InsertAdComment(ctx, comment)
		if err != nil {
			return store.AdComment{}, asError(err)
		}
		return created, nil
	})
}

// ResolveComment marks a root comment resolved. Resolution is one-way.
func (w *Workflow) ResolveComment(ctx context.Context, actor Actor, adID, commentID string) (store.AdComment, error) {
	if !actor.Authenticated() {
		return store.AdComment{}, errUnauthenticated
	}
	if !actor.Can(rbac.ActionResolve) {
		return store.AdComment{}, newError(KindUnauthorized, "you cannot resolve comments")
	}

	return doOnce(&w.flights, flightKey("resolve", adID, commentID, actor.ID), func() (store.AdComment, error) {
		comment, err := w.store.GetAdComment(ctx, adID, commentID)
		if err != nil {
			return store.AdComment{}, asError(err)
		}
		if !comment.IsRoot() {
			return store.AdComment{}, newError(KindPrecondition, "Replies cannot be resolved")
		}
		if comment.IsResolved {
			return store.AdComment{}, newError(KindPrecondition, "Comment is already resolved")
		}

		changed, err := w.store.ResolveAdComment(ctx, adID, commentID, actor.ID)
		if err != nil {
			return store.AdComment{}, asError(err)
		}
		if !changed {
			return store.AdComment{}, newError(KindPrecondition, "Comment is already resolved")
		}
		resolved, err := w.store.GetAdComment(ctx, adID, commentID)
		if err != nil {
			return store.AdComment{}, asError(err)
		}
		return resolved, nil
	})
}

// DeleteComment removes a comment written by actor, or any comment for a
// moderator. Replies of a deleted root go with it.
func (w *Workflow) DeleteComment(ctx context.Context, actor Actor, adID, commentID string) error {
	if !actor.Authenticated() {
		return errUnauthenticated
	}

	comment, err := w.store.GetAdComment(ctx, adID, commentID)
	if err != nil {
		return asError(err)
	}
	if comment.AuthorID != actor.ID && !actor.Can(rbac.ActionModerate) {
		return newError(KindUnauthorized, "only the author can delete this comment")
	}

	_, err = doOnce(&w.flights, flightKey("delete", adID, commentID, actor.ID), func() (struct{}, error) {
		deleted, err := w.store.DeleteAdComment(ctx, adID, commentID)
		if err != nil {
			return struct{}{}, asError(err)
		}
		if !deleted {
			return struct{}{}, newError(KindNotFound, "comment not found")
		}
		return struct{}{}, nil
	})
	return err
}

// ReplaceMedia uploads new media for an ad, then in one transaction points
// the ad at it, resets approval to draft and deletes every comment. Nothing
// is uploaded unless the media gate passes. The store checks the gate again
// under lock, and a replacement refused there leaves no object behind.
func (w *Workflow) ReplaceMedia(ctx context.Context, actor Actor, input MediaInput) (store.Ad, error) {
	if !actor.Authenticated() {
		return store.Ad{}, errUnauthenticated
	}

	snap, err := w.snapshot(ctx, input.AdID)
	if err != nil {
		return store.Ad{}, asError(err)
	}
	gate := MediaGate(actor.Can(rbac.ActionReplaceMedia), snap.Ad, snap.Campaign, snap.Comments)
	if !gate.Allowed {
		kind := KindPrecondition
		if gate.Reason == ReasonNoPermission {
			kind = KindUnauthorized
		}
		return store.Ad{}, newError(kind, gate.Reason)
	}
	fileType, ok := MediaKind(input.ContentType)
	if !ok {
		return store.Ad{}, newError(KindValidation, "only image and video files can be uploaded")
	}
	if input.Body == nil || input.Size <= 0 {
		return store.Ad{}, newError(KindValidation, "file is empty")
	}

	key := flightKey("media", snap.Ad.ID, actor.ID, input.Filename, input.ContentType, strconv.FormatInt(input.Size, 10))
	return doOnce(&w.flights, key, func() (store.Ad, error) {
		objectName := storage.AdMediaObject(snap.Ad.ID, input.Filename)
		fileURL, err := w.objects.Upload(ctx, objectName, input.ContentType, input.Body, input.Size)
		if err != nil {
			return store.Ad{}, asError(err)
		}

		ad, err := w.store.ReplaceAdMedia(ctx, snap.Ad.ID, fileURL, fileType)
		if err != nil {
			// The new object is not referenced by any row; drop it.
			if removeErr := w.objects.Remove(context.WithoutCancel(ctx), objectName); removeErr != nil {
				w.logger.Error("remove orphaned media failed",
					zap.String("ad_id", snap.Ad.ID),
					zap.String("object", objectName),
					zap.Error(removeErr))
			}
			return store.Ad{}, replaceError(err)
		}

		audit := store.MediaUpload{
			ID:         util.NewID("upl"),
			AdID:       ad.ID,
			FileURL:    fileURL,
			FileType:   fileType,
			UploadedBy: actor.ID,
			UploadedAt: w.now(),
		}
		if err := w.store.InsertMediaUpload(ctx, audit); err != nil {
			w.logger.Warn("record media upload failed", zap.String("ad_id", ad.ID), zap.Error(err))
		}
		return ad, nil
	})
}

// MediaKind maps a content type onto the ad file_type column.
func MediaKind(contentType string) (string, bool) {
	major, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), "/")
	switch major {
	case "image", "video":
		return major, true
	default:
		return "", false
	}
}

func (w *Workflow) Submit(ctx context.Context, actor Actor, adID string) (store.Ad, error) {
	return w.transition(ctx, actor, adID, transition{
		name:    "submit",
		action:  rbac.ActionSubmit,
		from:    store.ApprovalDraft,
		to:      store.ApprovalPending,
		refusal: "Only draft ads can be submitted for review",
	})
}

func (w *Workflow) Approve(ctx context.Context, actor Actor, adID string) (store.Ad, error) {
	approver := actor.ID
	return w.transition(ctx, actor, adID, transition{
		name:       "approve",
		action:     rbac.ActionApprove,
		from:       store.ApprovalPending,
		to:         store.ApprovalApproved,
		approvedBy: &approver,
		refusal:    "Only ads pending review can be approved",
	})
}

func (w *Workflow) Reject(ctx context.Context, actor Actor, adID, reason string) (store.Ad, error) {
	reason = strings.TrimSpace(reason)
	if actor.Can(rbac.ActionApprove) && reason == "" {
		return store.Ad{}, newError(KindValidation, "a rejection reason is required")
	}
	return w.transition(ctx, actor, adID, transition{
		name:    "reject",
		action:  rbac.ActionApprove,
		from:    store.ApprovalPending,
		to:      store.ApprovalRejected,
		reason:  &reason,
		refusal: "Only ads pending review can be rejected",
	})
}

type transition struct {
	name       string
	action     rbac.Action
	from       store.ApprovalStatus
	to         store.ApprovalStatus
	approvedBy *string
	reason     *string
	refusal    string
}

func (w *Workflow) transition(ctx context.Context, actor Actor, adID string, t transition) (store.Ad, error) {
	if !actor.Authenticated() {
		return store.Ad{}, errUnauthenticated
	}
	if !actor.Can(t.action) {
		return store.Ad{}, newError(KindUnauthorized, "you cannot "+t.name+" this ad")
	}

	reason := ""
	if t.reason != nil {
		reason = *t.reason
	}
	return doOnce(&w.flights, flightKey(t.name, adID, actor.ID, reason), func() (store.Ad, error) {
		ad, err := w.store.GetAd(ctx, adID)
		if err != nil {
			return store.Ad{}, asError(err)
		}
		if ad.ApprovalStatus != t.from {
			return store.Ad{}, newError(KindPrecondition, t.refusal)
		}

		updated, ok, err := w.store.UpdateAdApproval(ctx, adID, store.ApprovalChange{
			From:            t.from,
			To:              t.to,
			ApprovedBy:      t.approvedBy,
			RejectionReason: t.reason,
		})
		if err != nil {
			return store.Ad{}, asError(err)
		}
		if !ok {
			return store.Ad{}, newError(KindConflict, "the ad changed while you were reviewing it; reload and try again")
		}
		return updated, nil
	})
}

// replaceError maps a guard refused inside the media transaction onto the
// same reason the gate reports.
func replaceError(err error) error {
	switch {
	case errors.Is(err, store.ErrUnresolvedComments):
		return newError(KindPrecondition, ReasonUnresolvedComments)
	case errors.Is(err, store.ErrAdApproved):
		return newError(KindPrecondition, ReasonApproved)
	case errors.Is(err, store.ErrCampaignLocked):
		return newError(KindPrecondition, ReasonCampaignLocked)
	default:
		return asError(err)
	}
}

// flightKey hashes length-prefixed parts, so distinct inputs never share a
// key even when a part contains the separator.
func flightKey(op string, parts ...string) string {
	h := sha1.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%d:%s", len(part), part)
	}
	return op + ":" + hex.EncodeToString(h.Sum(nil))
}

// doOnce collapses concurrent calls sharing key into one execution.
func doOnce[T any](group *singleflight.Group, key string, fn func() (T, error)) (T, error) {
	value, err, _ := group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value.(T), nil
}

func inPercentRange(v float64) bool {
	return v >= 0 && v <= 100
}

func isNotFound(err error) bool {
	return IsKind(err, KindNotFound) || errors.Is(err, sql.ErrNoRows)
}

func asError(err error) error {
	var reviewErr *Error
	if errors.As(err, &reviewErr) {
		return err
	}
	return backendError(err)
}
