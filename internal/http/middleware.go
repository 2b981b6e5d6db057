package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hashstyles/hashstyles/internal/metrics"
	"github.com/hashstyles/hashstyles/internal/workspace"
)

type contextKey string

const workspaceKey contextKey = "workspace"

// Workspaces resolves a bearer token into the caller's workspace.
type Workspaces interface {
	Acquire(ctx context.Context, token string) (*workspace.Workspace, error)
	Release(ctx context.Context, uid string)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// AuthMiddleware authenticates the bearer token and stores the caller's
// workspace in the request context.
func AuthMiddleware(ws Workspaces) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				respondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			space, err := ws.Acquire(r.Context(), token)
			if err != nil {
				handleError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), workspaceKey, space)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminMiddleware rejects callers whose user id isAdmin does not accept.
// It runs after AuthMiddleware.
func AdminMiddleware(isAdmin func(uid string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			space := workspaceFromContext(r.Context())
			if space == nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
				return
			}
			u, err := space.User()
			if err != nil {
				handleError(w, r, err)
				return
			}
			if !isAdmin(u.ID) {
				respondError(w, http.StatusForbidden, "permission_denied", "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MetricsMiddleware counts requests by route pattern so path parameters do
// not explode the label set.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		})
	}
}

func workspaceFromContext(ctx context.Context) *workspace.Workspace {
	ws, _ := ctx.Value(workspaceKey).(*workspace.Workspace)
	return ws
}
