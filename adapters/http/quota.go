package http

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/tutorquota/app"
	"github.com/artpar/tutorquota/domain/chat"
	"github.com/artpar/tutorquota/domain/quota"
	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/pkg/jsonapi"
	"github.com/artpar/tutorquota/ports"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Quota response headers.
const (
	HeaderQuotaLimit     = "X-Quota-Limit"
	HeaderQuotaRemaining = "X-Quota-Remaining"
	HeaderQuotaReset     = "X-Quota-Reset"
	HeaderQuotaDegraded  = "X-Quota-Degraded"
)

// setQuotaHeaders exposes a decision to the browser.
func setQuotaHeaders(w http.ResponseWriter, d app.Decision) {
	h := w.Header()
	h.Set(HeaderQuotaLimit, strconv.FormatInt(d.Limit, 10))
	h.Set(HeaderQuotaRemaining, strconv.FormatInt(d.Remaining, 10))
	h.Set(HeaderQuotaReset, d.ResetAt.UTC().Format(time.RFC3339))
	if d.Degraded {
		h.Set(HeaderQuotaDegraded, "true")
	}
}

// retryAfter returns whole seconds from now until the window after resetAt
// opens. ResetAt is the last inclusive second of the day.
func retryAfter(resetAt, now time.Time) int64 {
	wait := resetAt.Add(time.Second).Sub(now)
	return int64(math.Ceil(wait.Seconds()))
}

// writeDenied writes the 429 response for an exhausted quota.
func writeDenied(w http.ResponseWriter, d app.Decision, now time.Time) {
	setQuotaHeaders(w, d)
	if secs := retryAfter(d.ResetAt, now); secs > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	jsonapi.WriteError(w, jsonapi.ErrQuotaExceeded(string(d.Action), d.Limit, d.ResetAt))
}

// writeServiceError maps service errors to JSON:API error responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, logger zerolog.Logger) {
	switch {
	case errors.Is(err, chat.ErrInvalidMessages):
		jsonapi.WriteError(w, jsonapi.NewError(http.StatusBadRequest, "invalid_messages", "Invalid Messages").
			Detail(err.Error()).
			Pointer("/messages").
			Build())
	case errors.Is(err, quota.ErrInvalidArgument):
		jsonapi.WriteBadRequest(w, err.Error())
	case errors.Is(err, quota.ErrStorageUnavailable):
		logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("quota store unavailable")
		jsonapi.WriteError(w, jsonapi.ErrServiceUnavailable("Usage tracking is temporarily unavailable"))
	case errors.Is(err, app.ErrUpstream):
		jsonapi.WriteError(w, jsonapi.ErrBadGateway(""))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		jsonapi.WriteError(w, jsonapi.ErrServiceUnavailable("Request timed out"))
	default:
		logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
		jsonapi.WriteInternalError(w, "")
	}
}

// NewQuotaGate creates middleware that consumes one unit of action per
// request before calling next. Denied requests never reach next.
func NewQuotaGate(svc *app.QuotaService, action usage.Action, clock ports.Clock, logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFrom(r.Context())

			d, err := svc.Consume(r.Context(), userID, action)
			if err != nil {
				writeServiceError(w, r, err, logger)
				return
			}
			if !d.Allowed {
				logger.Debug().
					Str("user_id", userID).
					Str("action", string(action)).
					Int64("limit", d.Limit).
					Msg("quota exceeded")
				writeDenied(w, d, clock.Now())
				return
			}

			setQuotaHeaders(w, d)
			next.ServeHTTP(w, r)
		})
	}
}

// NewBodyLimit rejects requests whose declared Content-Length exceeds max
// with 413, and caps bodies of unknown length at max. Mounted in front of
// the quota gate, an oversized upload is refused before a unit is spent.
func NewBodyLimit(max int64) func(next http.Handler) http.Handler {
	capped := middleware.RequestSize(max)
	return func(next http.Handler) http.Handler {
		limited := capped(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > max {
				jsonapi.WriteError(w, jsonapi.ErrPayloadTooLarge(
					"Request body exceeds "+strconv.FormatInt(max, 10)+" bytes"))
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}
