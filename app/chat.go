package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/artpar/tutorquota/domain/chat"
	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/ports"
	"github.com/rs/zerolog"
)

var (
	// ErrQuotaExceeded is returned when the user has no chat requests left today.
	ErrQuotaExceeded = errors.New("daily quota exceeded")

	// ErrUpstream is returned when the model provider call fails.
	ErrUpstream = errors.New("upstream unavailable")
)

// ChatService gates tutoring chat turns behind the daily chat_request quota
// and forwards allowed turns to the model provider.
type ChatService struct {
	quota     *QuotaService
	completer ports.ChatCompleter
	clock     ports.Clock
	logger    zerolog.Logger

	options atomic.Pointer[chat.Options]
}

// ChatDeps contains dependencies for ChatService.
type ChatDeps struct {
	Quota     *QuotaService
	Completer ports.ChatCompleter
	Clock     ports.Clock
	Logger    zerolog.Logger
}

// ChatResult is a chat turn outcome. Decision is always set once the quota
// was consulted, including when the turn is denied.
type ChatResult struct {
	Decision Decision
	Response chat.Response
}

// NewChatService creates a new chat service.
func NewChatService(deps ChatDeps, opts chat.Options) *ChatService {
	s := &ChatService{
		quota:     deps.Quota,
		completer: deps.Completer,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
	s.UpdateOptions(opts)
	return s
}

// UpdateOptions swaps the generation settings used for new turns.
func (s *ChatService) UpdateOptions(opts chat.Options) {
	o := opts.WithDefaults()
	s.options.Store(&o)
}

// Send validates the conversation, consumes one chat_request unit and
// forwards the turn upstream. A failed upstream call still counts against
// the quota.
func (s *ChatService) Send(ctx context.Context, userID, topic string, messages []chat.Message) (ChatResult, error) {
	if err := chat.Validate(messages); err != nil {
		return ChatResult{}, err
	}

	decision, err := s.quota.Consume(ctx, userID, usage.ActionChat)
	if err != nil {
		return ChatResult{}, err
	}
	result := ChatResult{Decision: decision}
	if !decision.Allowed {
		return result, ErrQuotaExceeded
	}

	req := chat.Request{
		UserID:   userID,
		Topic:    topic,
		Messages: chat.WithTopic(topic, messages),
		Options:  *s.options.Load(),
	}

	start := s.clock.Now()
	resp, err := s.completer.Complete(ctx, req)
	latency := s.clock.Now().Sub(start)
	if err != nil {
		s.logger.Error().Err(err).
			Str("user_id", userID).
			Str("model", req.Options.Model).
			Dur("latency", latency).
			Msg("chat completion failed")
		return result, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	s.logger.Debug().
		Str("user_id", userID).
		Str("model", resp.Model).
		Int64("total_tokens", resp.Usage.TotalTokens).
		Int64("remaining", decision.Remaining).
		Dur("latency", latency).
		Msg("chat completed")

	result.Response = resp
	return result, nil
}
