// Package service coordinates comment creation, listing and the like/unlike
// protocol that keeps a comment's like count equal to its membership set.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/corner/internal/platform/events"
	"github.com/example/corner/services/comments/internal/facts"
	"github.com/example/corner/services/comments/internal/store"
)

// AnonymousUsername is stored when the session carries no display name.
const AnonymousUsername = "Anonymous"

// Author identifies who is posting a comment.
type Author struct {
	UserID   string
	Username string
}

// CommentView is a comment merged with the viewer's like state.
type CommentView struct {
	store.Comment
	LikedByViewer bool `json:"likedByViewer"`
}

// viewOf hides the transient negative counts that out-of-order deltas can
// produce.
func viewOf(c store.Comment, liked bool) CommentView {
	c.LikeCount = max(c.LikeCount, 0)
	return CommentView{Comment: c, LikedByViewer: liked}
}

// LikeState is the outcome of Like/Unlike.
type LikeState struct {
	CommentID     string `json:"commentId"`
	LikeCount     int64  `json:"likeCount"`
	LikedByViewer bool   `json:"likedByViewer"`
	// Changed is false when the call was an idempotent no-op.
	Changed bool `json:"-"`
}

// ReconcileResult reports one counter recomputation.
type ReconcileResult struct {
	CommentID string `json:"commentId"`
	Previous  int64  `json:"previous"`
	Actual    int64  `json:"actual"`
	Corrected bool   `json:"corrected"`
}

// DriftReporter is told about comments whose counter may disagree with the
// membership set.
type DriftReporter interface {
	ReportDrift(commentID string)
}

// DriftReporters fans a report out to several reporters.
type DriftReporters []DriftReporter

func (ds DriftReporters) ReportDrift(commentID string) {
	for _, d := range ds {
		if d != nil {
			d.ReportDrift(commentID)
		}
	}
}

// EventPublisher publishes domain events. Failures must not block callers.
type EventPublisher interface {
	Publish(subject, eventName, userID string, props map[string]any)
}

type Options struct {
	MaxTextLength int
	// IncrementAttempts bounds the counter step after a membership change.
	IncrementAttempts int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	// AttemptTimeout bounds each counter attempt once detached from the caller.
	AttemptTimeout time.Duration
	// ReconcileAttempts bounds compare-and-set retries.
	ReconcileAttempts int
	// ReconcileConcurrency bounds ReconcileFact fan-out.
	ReconcileConcurrency int
}

func (o Options) withDefaults() Options {
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = store.DefaultMaxTextLength
	}
	if o.IncrementAttempts <= 0 {
		o.IncrementAttempts = 4
	}
	if o.RetryBaseDelay < 0 {
		o.RetryBaseDelay = 0
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = time.Second
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 5 * time.Second
	}
	if o.ReconcileAttempts <= 0 {
		o.ReconcileAttempts = 5
	}
	if o.ReconcileConcurrency <= 0 {
		o.ReconcileConcurrency = 8
	}
	return o
}

// Deps are the collaborators of Service. Comments and Likes are required.
type Deps struct {
	Comments store.CommentStore
	Likes    store.LikeStore
	Facts    facts.Catalog
	Drift    DriftReporter
	Events   EventPublisher
	Log      *zap.Logger
}

type Service struct {
	comments store.CommentStore
	likes    store.LikeStore
	facts    facts.Catalog
	drift    DriftReporter
	events   EventPublisher
	log      *zap.Logger
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(d Deps, opts Options) *Service {
	s := &Service{
		comments: d.Comments,
		likes:    d.Likes,
		facts:    d.Facts,
		drift:    d.Drift,
		events:   d.Events,
		log:      d.Log,
		opts:     opts.withDefaults(),
		sleep:    sleepCtx,
	}
	if s.facts == nil {
		s.facts = facts.Open{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

func (s *Service) publish(subject, name, userID string, props map[string]any) {
	if s.events != nil {
		s.events.Publish(subject, name, userID, props)
	}
}

func (s *Service) requireFact(factID string) (string, error) {
	factID = strings.TrimSpace(factID)
	if factID == "" {
		return "", &ValidationError{Field: "fact_id", Reason: "must not be empty"}
	}
	if !s.facts.Exists(factID) {
		return "", fmt.Errorf("%w: fact %s", ErrNotFound, factID)
	}
	return factID, nil
}

func requireID(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", &ValidationError{Field: field, Reason: "must not be empty"}
	}
	return v, nil
}

// CreateComment validates text, checks the fact exists and stores the comment
// with likeCount 0.
func (s *Service) CreateComment(ctx context.Context, factID string, author Author, text string) (store.Comment, error) {
	text, err := store.ValidateText(text, s.opts.MaxTextLength)
	if err != nil {
		return store.Comment{}, classify(err)
	}
	factID, err = s.requireFact(factID)
	if err != nil {
		return store.Comment{}, err
	}
	name := strings.TrimSpace(author.Username)
	if name == "" {
		name = AnonymousUsername
	}

	c, err := s.comments.Create(ctx, store.NewComment{FactID: factID, AuthorUsername: name, Text: text})
	if err != nil {
		return store.Comment{}, classify(err)
	}
	s.log.Info("comment created", zap.String("comment_id", c.ID), zap.String("fact_id", factID))
	s.publish(events.SubjectCommentCreated, "comment_created", author.UserID, map[string]any{
		"comment_id": c.ID,
		"fact_id":    factID,
	})
	return c, nil
}

// GetComment returns one comment with the viewer's like state. An empty
// viewerID is anonymous and never liked anything.
func (s *Service) GetComment(ctx context.Context, commentID, viewerID string) (CommentView, error) {
	commentID, err := requireID("comment_id", commentID)
	if err != nil {
		return CommentView{}, err
	}
	c, err := s.comments.Get(ctx, commentID)
	if err != nil {
		return CommentView{}, classify(err)
	}
	var liked bool
	if viewerID = strings.TrimSpace(viewerID); viewerID != "" {
		liked, err = s.likes.Exists(ctx, commentID, viewerID)
		if err != nil {
			return CommentView{}, classify(err)
		}
	}
	return viewOf(c, liked), nil
}

// ListWithViewerState lists a fact's comments newest first, each with
// likedByViewer resolved in one batched membership lookup.
func (s *Service) ListWithViewerState(ctx context.Context, factID, viewerID string) ([]CommentView, error) {
	factID, err := s.requireFact(factID)
	if err != nil {
		return nil, err
	}
	list, err := s.comments.ListByFact(ctx, factID)
	if err != nil {
		return nil, classify(err)
	}

	liked := map[string]bool{}
	if viewerID = strings.TrimSpace(viewerID); viewerID != "" && len(list) > 0 {
		ids := make([]string, len(list))
		for i, c := range list {
			ids[i] = c.ID
		}
		liked, err = s.likes.ExistsMany(ctx, ids, viewerID)
		if err != nil {
			return nil, classify(err)
		}
	}

	out := make([]CommentView, len(list))
	for i, c := range list {
		out[i] = viewOf(c, liked[c.ID])
	}
	return out, nil
}

// CountComments is the cheap per-fact count used by the feed badge.
func (s *Service) CountComments(ctx context.Context, factID string) (int64, error) {
	factID, err := s.requireFact(factID)
	if err != nil {
		return 0, err
	}
	n, err := s.comments.CountByFact(ctx, factID)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// Like records userID's like on commentID. Liking twice is a no-op.
func (s *Service) Like(ctx context.Context, commentID, userID string) (LikeState, error) {
	return s.toggle(ctx, commentID, userID, true)
}

// Unlike removes userID's like on commentID. Unliking an unliked comment is
// a no-op.
func (s *Service) Unlike(ctx context.Context, commentID, userID string) (LikeState, error) {
	return s.toggle(ctx, commentID, userID, false)
}

func (s *Service) toggle(ctx context.Context, commentID, userID string, like bool) (LikeState, error) {
	commentID, err := requireID("comment_id", commentID)
	if err != nil {
		return LikeState{}, err
	}
	userID, err = requireID("user_id", userID)
	if err != nil {
		return LikeState{}, err
	}

	c, err := s.comments.Get(ctx, commentID)
	if err != nil {
		return LikeState{}, classify(err)
	}

	op, delta := "like", int64(1)
	var changed bool
	if like {
		out, err := s.likes.Add(ctx, commentID, userID)
		if err != nil {
			return LikeState{}, classify(err)
		}
		changed = out == store.Created
	} else {
		op, delta = "unlike", -1
		out, err := s.likes.Remove(ctx, commentID, userID)
		if err != nil {
			return LikeState{}, classify(err)
		}
		changed = out == store.Removed
	}

	count := c.LikeCount
	if !changed {
		// No-op: report the counter as it stands now, not as read before
		// the membership step.
		fresh, err := s.comments.Get(ctx, commentID)
		if err != nil {
			return LikeState{}, classify(err)
		}
		count = fresh.LikeCount
	} else {
		// The membership is committed; the counter step must run even if the
		// caller goes away.
		n, err := s.incrementWithRetry(context.WithoutCancel(ctx), commentID, delta)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return LikeState{}, classify(err)
			}
			s.log.Error("like count drift",
				zap.String("comment_id", commentID),
				zap.String("op", op),
				zap.Error(err),
			)
			if s.drift != nil {
				s.drift.ReportDrift(commentID)
			}
			return LikeState{}, &PartialFailureError{CommentID: commentID, Op: op, Cause: err}
		}
		count = n
		subject := events.SubjectCommentLiked
		if !like {
			subject = events.SubjectCommentUnliked
		}
		s.publish(subject, "comment_"+op+"d", userID, map[string]any{
			"comment_id": commentID,
			"fact_id":    c.FactID,
			"like_count": n,
		})
	}

	liked, err := s.likes.Exists(ctx, commentID, userID)
	if err != nil {
		return LikeState{}, classify(err)
	}
	return LikeState{CommentID: commentID, LikeCount: max(count, 0), LikedByViewer: liked, Changed: changed}, nil
}

// incrementWithRetry retries transient counter failures with exponential
// backoff. ErrNotFound and validation errors are returned immediately.
func (s *Service) incrementWithRetry(ctx context.Context, commentID string, delta int64) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.IncrementAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
		n, err := s.comments.IncrementLikeCount(actx, commentID, delta)
		cancel()
		if err == nil {
			return n, nil
		}
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalid) {
			return 0, err
		}
		lastErr = err
		s.log.Warn("like count increment failed",
			zap.String("comment_id", commentID),
			zap.Int64("delta", delta),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < s.opts.IncrementAttempts {
			_ = s.sleep(ctx, retryDelay(attempt, s.opts.RetryBaseDelay, s.opts.RetryMaxDelay))
		}
	}
	return 0, lastErr
}

// Reconcile recomputes the counter from the membership set and overwrites it
// if it differs. A concurrent increment between the read and the write makes
// the compare-and-set fail; the whole read is then retried. Every correction
// is reported as drift so a later pass re-verifies it.
func (s *Service) Reconcile(ctx context.Context, commentID string) (ReconcileResult, error) {
	commentID, err := requireID("comment_id", commentID)
	if err != nil {
		return ReconcileResult{}, err
	}
	for attempt := 1; attempt <= s.opts.ReconcileAttempts; attempt++ {
		c, err := s.comments.Get(ctx, commentID)
		if err != nil {
			return ReconcileResult{}, classify(err)
		}
		actual, err := s.likes.Count(ctx, commentID)
		if err != nil {
			return ReconcileResult{}, classify(err)
		}
		res := ReconcileResult{CommentID: commentID, Previous: c.LikeCount, Actual: actual}
		if c.LikeCount == actual {
			return res, nil
		}
		ok, err := s.comments.CompareAndSetLikeCount(ctx, commentID, c.LikeCount, actual)
		if err != nil {
			return ReconcileResult{}, classify(err)
		}
		if ok {
			res.Corrected = true
			s.log.Info("like count reconciled",
				zap.String("comment_id", commentID),
				zap.Int64("previous", c.LikeCount),
				zap.Int64("actual", actual),
			)
			// A delta whose membership was already counted may still land
			// on top of the value just written; have the comment checked
			// again once in-flight increments settle.
			if s.drift != nil {
				s.drift.ReportDrift(commentID)
			}
			return res, nil
		}
		if err := s.sleep(ctx, retryDelay(attempt, s.opts.RetryBaseDelay, s.opts.RetryMaxDelay)); err != nil {
			return ReconcileResult{}, classify(err)
		}
	}
	return ReconcileResult{}, fmt.Errorf("%w: like count of %s kept changing during reconcile", ErrStoreUnavailable, commentID)
}

// ReconcileFact reconciles every comment of a fact. Results follow list order.
func (s *Service) ReconcileFact(ctx context.Context, factID string) ([]ReconcileResult, error) {
	factID, err := s.requireFact(factID)
	if err != nil {
		return nil, err
	}
	list, err := s.comments.ListByFact(ctx, factID)
	if err != nil {
		return nil, classify(err)
	}

	results := make([]ReconcileResult, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ReconcileConcurrency)
	for i, c := range list {
		g.Go(func() error {
			res, err := s.Reconcile(gctx, c.ID)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Ping reports whether the backing stores answer.
func (s *Service) Ping(ctx context.Context) error {
	for _, v := range []any{s.comments, s.likes} {
		if p, ok := v.(store.Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
