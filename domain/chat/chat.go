// Package chat provides tutoring chat value types and pure validation functions.
package chat

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMessages is returned when a conversation fails validation.
var ErrInvalidMessages = errors.New("invalid messages")

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Limits on inbound conversations.
const (
	MaxMessages      = 50
	MaxMessageLength = 8000
)

// Generation defaults.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
)

// Message represents a single chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options are generation settings sent upstream. Every field is always
// present; zero values are replaced by DefaultOptions when merged.
type Options struct {
	Model            string
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	MaxTokens        int
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Model:            DefaultModel,
		Temperature:      DefaultTemperature,
		TopP:             1.0,
		PresencePenalty:  0,
		FrequencyPenalty: 0,
		MaxTokens:        DefaultMaxTokens,
	}
}

// WithDefaults fills unset fields from DefaultOptions.
// Penalties default to zero, so they are taken as given.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Model == "" {
		o.Model = d.Model
	}
	if o.Temperature == 0 {
		o.Temperature = d.Temperature
	}
	if o.TopP == 0 {
		o.TopP = d.TopP
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = d.MaxTokens
	}
	return o
}

// Request is a tutoring chat turn (value type).
type Request struct {
	UserID   string
	Topic    string
	Messages []Message
	Options  Options
}

// Response is the assistant reply.
type Response struct {
	ID      string  `json:"id"`
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Usage   Usage   `json:"usage"`
}

// Usage reports upstream token usage.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Validate checks the conversation sent by the browser.
// This is a PURE function.
func Validate(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", ErrInvalidMessages)
	}
	if len(messages) > MaxMessages {
		return fmt.Errorf("%w: at most %d messages are allowed", ErrInvalidMessages, MaxMessages)
	}
	for i, m := range messages {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return fmt.Errorf("%w: messages[%d]: invalid role %q", ErrInvalidMessages, i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("%w: messages[%d]: content is required", ErrInvalidMessages, i)
		}
		if len(m.Content) > MaxMessageLength {
			return fmt.Errorf("%w: messages[%d]: content exceeds %d bytes", ErrInvalidMessages, i, MaxMessageLength)
		}
	}
	if messages[len(messages)-1].Role != RoleUser {
		return fmt.Errorf("%w: last message must come from the user", ErrInvalidMessages)
	}
	return nil
}

// WithTopic prepends the tutoring system prompt for a topic.
// Client-supplied system messages are dropped.
// This is a PURE function.
func WithTopic(topic string, messages []Message) []Message {
	out := make([]Message, 0, len(messages)+1)
	prompt := "You are a patient tutor. Explain step by step and check understanding."
	if t := strings.TrimSpace(topic); t != "" {
		prompt = fmt.Sprintf("You are a patient tutor helping a student with %s. Explain step by step and check understanding.", t)
	}
	out = append(out, Message{Role: RoleSystem, Content: prompt})
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}
