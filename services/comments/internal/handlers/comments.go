package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/corner/internal/platform/api"
	"github.com/example/corner/internal/platform/auth"
	"github.com/example/corner/internal/platform/httpserver"
	"github.com/example/corner/services/comments/internal/service"
	"github.com/example/corner/services/comments/internal/store"
)

// CommentService is the subset of service.Service the HTTP layer drives.
type CommentService interface {
	CreateComment(ctx context.Context, factID string, author service.Author, text string) (store.Comment, error)
	GetComment(ctx context.Context, commentID, viewerID string) (service.CommentView, error)
	ListWithViewerState(ctx context.Context, factID, viewerID string) ([]service.CommentView, error)
	CountComments(ctx context.Context, factID string) (int64, error)
	Like(ctx context.Context, commentID, userID string) (service.LikeState, error)
	Unlike(ctx context.Context, commentID, userID string) (service.LikeState, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, commentID string) (service.ReconcileResult, error)
	ReconcileFact(ctx context.Context, factID string) ([]service.ReconcileResult, error)
}

type createCommentRequest struct {
	Text string `json:"text"`
}

type listResponse struct {
	Comments []service.CommentView `json:"comments"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

type reconcileFactResponse struct {
	Results []service.ReconcileResult `json:"results"`
}

// unavailableRetryAfter is the Retry-After hint, in seconds, on 503s.
const unavailableRetryAfter = 1

// CreateComment handles POST /v1/facts/{fact_id}/comments
func CreateComment(svc CommentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", rid)
			return
		}

		factID := strings.TrimSpace(chi.URLParam(r, "fact_id"))
		if factID == "" {
			api.BadRequest(w, "MISSING_ID", "fact_id is required", rid, nil)
			return
		}

		var req createCommentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
			return
		}

		username, _ := auth.UsernameFromContext(r.Context())
		created, err := svc.CreateComment(r.Context(), factID, service.Author{UserID: userID, Username: username}, req.Text)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, created)
	}
}

// ListComments handles GET /v1/facts/{fact_id}/comments. Anonymous viewers
// get likedByViewer=false everywhere.
func ListComments(svc CommentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		factID := strings.TrimSpace(chi.URLParam(r, "fact_id"))
		if factID == "" {
			api.BadRequest(w, "MISSING_ID", "fact_id is required", httpserver.RequestIDFromContext(r.Context()), nil)
			return
		}
		viewerID, _ := auth.UserIDFromContext(r.Context())

		views, err := svc.ListWithViewerState(r.Context(), factID, viewerID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, listResponse{Comments: views})
	}
}

// CountComments handles GET /v1/facts/{fact_id}/comments/count
func CountComments(svc CommentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		factID := strings.TrimSpace(chi.URLParam(r, "fact_id"))
		if factID == "" {
			api.BadRequest(w, "MISSING_ID", "fact_id is required", httpserver.RequestIDFromContext(r.Context()), nil)
			return
		}
		n, err := svc.CountComments(r.Context(), factID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, countResponse{Count: n})
	}
}

// GetComment handles GET /v1/comments/{comment_id}
func GetComment(svc CommentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			api.BadRequest(w, "MISSING_ID", "comment_id is required", httpserver.RequestIDFromContext(r.Context()), nil)
			return
		}
		viewerID, _ := auth.UserIDFromContext(r.Context())

		view, err := svc.GetComment(r.Context(), commentID, viewerID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, view)
	}
}

// LikeComment handles POST /v1/comments/{comment_id}/like
func LikeComment(svc CommentService, log *zap.Logger) http.HandlerFunc {
	return toggleHandler(svc.Like, log)
}

// UnlikeComment handles DELETE /v1/comments/{comment_id}/like
func UnlikeComment(svc CommentService, log *zap.Logger) http.HandlerFunc {
	return toggleHandler(svc.Unlike, log)
}

func toggleHandler(op func(ctx context.Context, commentID, userID string) (service.LikeState, error), log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", rid)
			return
		}

		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			api.BadRequest(w, "MISSING_ID", "comment_id is required", rid, nil)
			return
		}

		state, err := op(r.Context(), commentID, userID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, state)
	}
}

// ReconcileComment handles POST /v1/admin/comments/{comment_id}/reconcile
func ReconcileComment(rec Reconciler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			api.BadRequest(w, "MISSING_ID", "comment_id is required", httpserver.RequestIDFromContext(r.Context()), nil)
			return
		}
		res, err := rec.Reconcile(r.Context(), commentID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}

// ReconcileFact handles POST /v1/admin/facts/{fact_id}/reconcile
func ReconcileFact(rec Reconciler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		factID := strings.TrimSpace(chi.URLParam(r, "fact_id"))
		if factID == "" {
			api.BadRequest(w, "MISSING_ID", "fact_id is required", httpserver.RequestIDFromContext(r.Context()), nil)
			return
		}
		results, err := rec.ReconcileFact(r.Context(), factID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, reconcileFactResponse{Results: results})
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		api.BadRequest(w, "VALIDATION_FAILED", verr.Error(), rid, map[string]any{
			"field":  verr.Field,
			"reason": verr.Reason,
		})
	case errors.Is(err, service.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", "not found", rid)
	case errors.Is(err, service.ErrPartialFailure):
		api.Unavailable(w, "PARTIAL_FAILURE", "like recorded, count update pending; refetch the comment", rid, unavailableRetryAfter)
	case errors.Is(err, service.ErrStoreUnavailable):
		if log != nil {
			log.Warn("store unavailable", zap.String("path", r.URL.Path), zap.String("request_id", rid), zap.Error(err))
		}
		api.Unavailable(w, "STORE_UNAVAILABLE", "storage temporarily unavailable", rid, unavailableRetryAfter)
	default:
		if log != nil {
			log.Error("unhandled service error", zap.String("path", r.URL.Path), zap.String("request_id", rid), zap.Error(err))
		}
		api.Internal(w, rid)
	}
}
