// Package jsonapi writes JSON:API (https://jsonapi.org) response documents.
// Only the subset the quota endpoints need is implemented: single and
// collection resources, error objects and top-level meta.
package jsonapi

import (
	"encoding/json"
	"net/http"
)

// ContentType is the JSON:API media type.
const ContentType = "application/vnd.api+json"

// Meta holds non-standard meta-information.
type Meta map[string]any

// Document is a top-level JSON:API document. Data and Errors never appear
// together.
type Document struct {
	Data   any     `json:"data,omitempty"`
	Errors []Error `json:"errors,omitempty"`
	Meta   Meta    `json:"meta,omitempty"`
}

// Resource is a JSON:API resource object.
type Resource struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Meta       Meta           `json:"meta,omitempty"`
}

// ResourceBuilder assembles a Resource.
type ResourceBuilder struct {
	r Resource
}

// NewResource starts a resource of the given type and ID.
func NewResource(typ, id string) *ResourceBuilder {
	return &ResourceBuilder{r: Resource{Type: typ, ID: id, Attributes: map[string]any{}}}
}

// Attr sets an attribute.
func (b *ResourceBuilder) Attr(key string, value any) *ResourceBuilder {
	b.r.Attributes[key] = value
	return b
}

// Meta sets a resource-level meta entry.
func (b *ResourceBuilder) Meta(key string, value any) *ResourceBuilder {
	if b.r.Meta == nil {
		b.r.Meta = Meta{}
	}
	b.r.Meta[key] = value
	return b
}

// Build returns the resource.
func (b *ResourceBuilder) Build() Resource {
	return b.r
}

func write(w http.ResponseWriter, status int, doc Document) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(doc)
}

// WriteResource writes a document whose primary data is one resource.
func WriteResource(w http.ResponseWriter, status int, r Resource) {
	write(w, status, Document{Data: r})
}

// WriteCollection writes a document whose primary data is a list. A nil
// list is written as [] so clients always see an array.
func WriteCollection(w http.ResponseWriter, status int, resources []Resource) {
	if resources == nil {
		resources = []Resource{}
	}
	write(w, status, Document{Data: resources})
}

// WriteError writes an error document. The response status is taken from
// the first error, or 500 when none is given.
func WriteError(w http.ResponseWriter, errs ...Error) {
	if len(errs) == 0 {
		errs = []Error{ErrInternal("")}
	}
	status := errs[0].StatusCode()
	if status == 0 {
		status = http.StatusInternalServerError
	}
	write(w, status, Document{Errors: errs})
}

// WriteBadRequest writes a 400 error document.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, ErrBadRequest(detail))
}

// WriteUnauthorized writes a 401 error document.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	WriteError(w, ErrUnauthorized(detail))
}

// WriteInternalError writes a 500 error document.
func WriteInternalError(w http.ResponseWriter, detail string) {
	WriteError(w, ErrInternal(detail))
}
