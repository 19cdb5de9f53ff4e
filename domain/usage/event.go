// Package usage provides the usage event types recorded by the quota ledger.
// All functions are pure - no side effects.
package usage

import (
	"strings"
	"time"
)

// Action identifies a metered operation. Counters are independent per
// (user, action).
type Action string

const (
	ActionChat          Action = "chat_request"     // Tutoring chat completion
	ActionSpeech        Action = "speech_synthesis" // Text-to-speech
	ActionTranscription Action = "transcription"    // Speech-to-text
)

// KnownActions lists the actions the application meters out of the box.
var KnownActions = []Action{ActionChat, ActionSpeech, ActionTranscription}

// Key identifies a single quota counter.
type Key struct {
	UserID string
	Action Action
}

// NewKey creates a key for a user and action.
func NewKey(userID string, action Action) Key {
	return Key{UserID: userID, Action: action}
}

// String returns a stable representation usable as a map or lock key.
// The action comes first since user IDs are opaque and may contain ':'.
func (k Key) String() string {
	return string(k.Action) + ":" + k.UserID
}

// Valid reports whether both parts of the key are set.
func (k Key) Valid() bool {
	return strings.TrimSpace(k.UserID) != "" && strings.TrimSpace(string(k.Action)) != ""
}

// Event is one consumed quota unit (immutable value type).
// Events are appended once and never mutated by the ledger.
type Event struct {
	ID         string
	UserID     string
	Action     Action
	OccurredAt time.Time
}

// NewEvent creates an event for a key at the given instant, normalized to UTC.
func NewEvent(id string, key Key, at time.Time) Event {
	return Event{
		ID:         id,
		UserID:     key.UserID,
		Action:     key.Action,
		OccurredAt: at.UTC(),
	}
}

// Key returns the counter key the event belongs to.
func (e Event) Key() Key {
	return Key{UserID: e.UserID, Action: e.Action}
}

// Within reports whether the event falls in the half-open range [from, until).
func (e Event) Within(from, until time.Time) bool {
	return !e.OccurredAt.Before(from) && e.OccurredAt.Before(until)
}

// Count returns how many events match key within [from, until).
func Count(events []Event, key Key, from, until time.Time) int64 {
	var n int64
	for _, e := range events {
		if e.UserID == key.UserID && e.Action == key.Action && e.Within(from, until) {
			n++
		}
	}
	return n
}
