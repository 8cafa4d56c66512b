package handlers

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/corner/internal/platform/auth"
)

// Mount registers the comment routes on r. Reads accept an optional bearer
// token; writes require one; reconcile routes require the admin role.
func Mount(r chi.Router, svc CommentService, rec Reconciler, verifier auth.JWTVerifier, log *zap.Logger) {
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalUser(verifier))
		r.Get("/v1/facts/{fact_id}/comments", ListComments(svc, log))
		r.Get("/v1/facts/{fact_id}/comments/count", CountComments(svc, log))
		r.Get("/v1/comments/{comment_id}", GetComment(svc, log))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		r.Post("/v1/facts/{fact_id}/comments", CreateComment(svc, log))
		r.Post("/v1/comments/{comment_id}/like", LikeComment(svc, log))
		r.Delete("/v1/comments/{comment_id}/like", UnlikeComment(svc, log))
	})

	if rec != nil {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(verifier))
			r.Use(auth.RequireAdmin)
			r.Post("/v1/admin/comments/{comment_id}/reconcile", ReconcileComment(rec, log))
			r.Post("/v1/admin/facts/{fact_id}/reconcile", ReconcileFact(rec, log))
		})
	}
}
