package jsonapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error is a JSON:API error object.
type Error struct {
	Status string       `json:"status"`
	Code   string       `json:"code"`
	Title  string       `json:"title"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
	Meta   Meta         `json:"meta,omitempty"`
}

// ErrorSource points at the part of the request that caused an error.
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`   // JSON pointer into the body
	Parameter string `json:"parameter,omitempty"` // Query parameter name
}

// StatusCode returns Status as an int, or 0 if it is not numeric.
func (e Error) StatusCode() int {
	n, _ := strconv.Atoi(e.Status)
	return n
}

// ErrorBuilder assembles an Error.
type ErrorBuilder struct {
	e Error
}

// NewError starts an error with an HTTP status, a machine-readable code and
// a title. The title defaults to the status text.
func NewError(status int, code, title string) *ErrorBuilder {
	if title == "" {
		title = http.StatusText(status)
	}
	return &ErrorBuilder{e: Error{Status: strconv.Itoa(status), Code: code, Title: title}}
}

// Detail sets the human-readable explanation.
func (b *ErrorBuilder) Detail(detail string) *ErrorBuilder {
	b.e.Detail = detail
	return b
}

// Pointer sets the JSON pointer to the offending body field, e.g. "/messages".
func (b *ErrorBuilder) Pointer(p string) *ErrorBuilder {
	b.source().Pointer = p
	return b
}

// Parameter sets the offending query parameter.
func (b *ErrorBuilder) Parameter(name string) *ErrorBuilder {
	b.source().Parameter = name
	return b
}

// Meta sets an error-level meta entry.
func (b *ErrorBuilder) Meta(key string, value any) *ErrorBuilder {
	if b.e.Meta == nil {
		b.e.Meta = Meta{}
	}
	b.e.Meta[key] = value
	return b
}

// Build returns the error.
func (b *ErrorBuilder) Build() Error {
	return b.e
}

func (b *ErrorBuilder) source() *ErrorSource {
	if b.e.Source == nil {
		b.e.Source = &ErrorSource{}
	}
	return b.e.Source
}

// simple builds a status/code error, substituting fallback for an empty detail.
func simple(status int, code, detail, fallback string) Error {
	if detail == "" {
		detail = fallback
	}
	return NewError(status, code, "").Detail(detail).Build()
}

// ErrBadRequest is a 400 for a malformed request body.
func ErrBadRequest(detail string) Error {
	return simple(http.StatusBadRequest, "bad_request", detail, "Malformed request")
}

// ErrInvalidParameter is a 400 for a bad query parameter.
func ErrInvalidParameter(param, detail string) Error {
	return NewError(http.StatusBadRequest, "invalid_parameter", "Invalid Parameter").
		Detail(detail).
		Parameter(param).
		Build()
}

// ErrUnauthorized is a 401 for a missing, unknown or expired session.
func ErrUnauthorized(detail string) Error {
	return simple(http.StatusUnauthorized, "unauthorized", detail, "Authentication required")
}

// ErrPayloadTooLarge is a 413 for a request body over the accepted size.
func ErrPayloadTooLarge(detail string) Error {
	return simple(http.StatusRequestEntityTooLarge, "payload_too_large", detail, "Request body too large")
}

// ErrQuotaExceeded is a 429 for an exhausted daily quota. Meta carries the
// action, the limit and when the counter resets.
func ErrQuotaExceeded(action string, limit int64, resetAt time.Time) Error {
	return NewError(http.StatusTooManyRequests, "quota_exceeded", "Daily Quota Exceeded").
		Detail(fmt.Sprintf("Daily limit of %d for %s reached", limit, action)).
		Meta("action", action).
		Meta("limit", limit).
		Meta("reset_at", resetAt.UTC().Format(time.RFC3339)).
		Build()
}

// ErrInternal is a 500.
func ErrInternal(detail string) Error {
	return simple(http.StatusInternalServerError, "internal_error", detail, "An internal error occurred")
}

// ErrBadGateway is a 502 for a failed model provider call.
func ErrBadGateway(detail string) Error {
	return simple(http.StatusBadGateway, "upstream_error", detail, "Upstream request failed")
}

// ErrServiceUnavailable is a 503, used when the usage store cannot be reached
// and the action fails closed.
func ErrServiceUnavailable(detail string) Error {
	return simple(http.StatusServiceUnavailable, "service_unavailable", detail, "Service temporarily unavailable")
}
