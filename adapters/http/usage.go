package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/artpar/tutorquota/app"
	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/pkg/jsonapi"
	"github.com/rs/zerolog"
)

// UsageHandler reports the caller's daily counters without consuming.
type UsageHandler struct {
	service *app.QuotaService
	logger  zerolog.Logger
}

// NewUsageHandler creates a new usage status handler.
func NewUsageHandler(service *app.QuotaService, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{service: service, logger: logger}
}

// ServeHTTP handles GET /api/usage[?action=...].
// With an action it returns one quota-status resource, without one it
// returns every action the user's plan meters.
func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFrom(r.Context())

	q := r.URL.Query()
	if q.Has("action") {
		action := strings.TrimSpace(q.Get("action"))
		if action == "" {
			jsonapi.WriteError(w, jsonapi.ErrInvalidParameter("action", "action must not be empty"))
			return
		}
		d, err := h.service.Status(r.Context(), userID, usage.Action(action))
		if err != nil {
			writeServiceError(w, r, err, h.logger)
			return
		}
		setQuotaHeaders(w, d)
		jsonapi.WriteResource(w, http.StatusOK, statusResource(d))
		return
	}

	all, err := h.service.StatusAll(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}
	resources := make([]jsonapi.Resource, 0, len(all))
	for _, d := range all {
		resources = append(resources, statusResource(d))
	}
	jsonapi.WriteCollection(w, http.StatusOK, resources)
}

func statusResource(d app.Decision) jsonapi.Resource {
	return jsonapi.NewResource("quota-status", string(d.Action)).
		Attr("action", string(d.Action)).
		Attr("plan", d.Plan).
		Attr("limit", d.Limit).
		Attr("used", d.Used).
		Attr("remaining", d.Remaining).
		Attr("allowed", d.Allowed).
		Attr("warning", d.Warning().String()).
		Attr("reset_at", d.ResetAt.UTC().Format(time.RFC3339)).
		Build()
}
