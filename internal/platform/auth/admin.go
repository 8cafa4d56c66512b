package auth

import (
	"net/http"
	"strings"
)

// RequireRole allows the request only if RequireUser already injected a
// matching role into context. Comparison is case-insensitive.
func RequireRole(role string) func(next http.Handler) http.Handler {
	want := strings.ToLower(strings.TrimSpace(role))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ := RoleFromContext(r.Context())
			if want == "" || strings.ToLower(strings.TrimSpace(got)) != want {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin guards operator endpoints such as like-count reconciliation.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole("admin")(next)
}
