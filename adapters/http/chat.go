package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/artpar/tutorquota/app"
	"github.com/artpar/tutorquota/domain/chat"
	"github.com/artpar/tutorquota/pkg/jsonapi"
	"github.com/artpar/tutorquota/ports"
	"github.com/rs/zerolog"
)

// maxChatBody bounds inbound conversations.
const maxChatBody = 1 << 20

// ChatRequestBody is the body of POST /api/chat.
type ChatRequestBody struct {
	Topic    string         `json:"topic"`
	Messages []chat.Message `json:"messages"`
}

// ChatHandler serves tutoring chat turns.
type ChatHandler struct {
	service *app.ChatService
	clock   ports.Clock
	logger  zerolog.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(service *app.ChatService, clock ports.Clock, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{service: service, clock: clock, logger: logger}
}

// ServeHTTP handles POST /api/chat.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body ChatRequestBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxChatBody))
	if err := dec.Decode(&body); err != nil {
		jsonapi.WriteBadRequest(w, "Request body must be a JSON object with a messages array")
		return
	}

	userID := UserIDFrom(r.Context())
	res, err := h.service.Send(r.Context(), userID, body.Topic, body.Messages)
	if errors.Is(err, app.ErrQuotaExceeded) {
		h.logger.Debug().
			Str("user_id", userID).
			Str("action", string(res.Decision.Action)).
			Int64("limit", res.Decision.Limit).
			Msg("quota exceeded")
		writeDenied(w, res.Decision, h.clock.Now())
		return
	}
	if err != nil {
		// The unit is already spent when the upstream fails.
		if errors.Is(err, app.ErrUpstream) {
			setQuotaHeaders(w, res.Decision)
		}
		writeServiceError(w, r, err, h.logger)
		return
	}

	setQuotaHeaders(w, res.Decision)
	jsonapi.WriteResource(w, http.StatusOK, jsonapi.NewResource("chat-completions", res.Response.ID).
		Attr("model", res.Response.Model).
		Attr("message", res.Response.Message).
		Attr("usage", res.Response.Usage).
		Meta("quota_remaining", res.Decision.Remaining).
		Build())
}
