package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/artpar/tutorquota/domain/auth"
	"github.com/artpar/tutorquota/pkg/jsonapi"
	"github.com/artpar/tutorquota/ports"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// DefaultCookieName is the session cookie set by the login flow.
const DefaultCookieName = "session"

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID returns a context carrying the authenticated user.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFrom returns the authenticated user, or "" when the request has none.
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// NewSessionMiddleware resolves the session cookie to a user and rejects
// requests without a live session.
func NewSessionMiddleware(sessions ports.SessionStore, clock ports.Clock, cookieName string, logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil || !auth.WellFormedToken(cookie.Value) {
				jsonapi.WriteUnauthorized(w, "")
				return
			}
			if sessions == nil {
				jsonapi.WriteUnauthorized(w, "")
				return
			}

			sess, err := sessions.Get(r.Context(), cookie.Value)
			if err != nil {
				if errors.Is(err, auth.ErrNoSession) {
					jsonapi.WriteUnauthorized(w, "Session not found")
					return
				}
				logger.Error().Err(err).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("session lookup failed")
				jsonapi.WriteError(w, jsonapi.ErrServiceUnavailable("Session store unavailable"))
				return
			}

			if err := auth.Check(sess, clock.Now()); err != nil {
				detail := "Session not found"
				if errors.Is(err, auth.ErrSessionExpired) {
					detail = "Session expired"
				}
				jsonapi.WriteUnauthorized(w, detail)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sess.UserID)))
		})
	}
}
