package upstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/tutorquota/pkg/jsonapi"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Provider paths for the audio endpoints.
const (
	SpeechPath        = "/audio/speech"
	TranscriptionPath = "/audio/transcriptions"
)

// MaxAudioBody bounds uploads forwarded for transcription.
const MaxAudioBody = 25 << 20

// AudioForwarder relays a browser request to one provider audio endpoint
// and streams the provider's answer back. Quota is enforced in front of it.
type AudioForwarder struct {
	client  *Client
	path    string
	maxBody int64
	logger  zerolog.Logger
}

// NewAudioForwarder creates a forwarder for path (SpeechPath or TranscriptionPath).
func NewAudioForwarder(client *Client, path string, logger zerolog.Logger) *AudioForwarder {
	return &AudioForwarder{client: client, path: path, maxBody: MaxAudioBody, logger: logger}
}

// ServeHTTP forwards the request body unchanged.
func (f *AudioForwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, f.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonapi.WriteError(w, jsonapi.ErrPayloadTooLarge(fmt.Sprintf("Audio uploads are limited to %d bytes", tooLarge.Limit)))
			return
		}
		jsonapi.WriteBadRequest(w, "Failed to read request body")
		return
	}

	resp, err := f.forward(r, body)
	if err != nil {
		f.logger.Error().Err(err).
			Str("path", f.path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("audio upstream failed")
		jsonapi.WriteError(w, jsonapi.ErrBadGateway(""))
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.logger.Error().Err(err).Msg("failed to write audio response")
	}
}

func (f *AudioForwarder) forward(r *http.Request, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, f.client.baseURL+f.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	req.Header.Set("Authorization", "Bearer "+f.client.apiKey)
	if id := middleware.GetReqID(r.Context()); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := f.client.httpClient.Do(req)
	if err != nil {
		f.client.observe("error", start)
		return nil, fmt.Errorf("execute request: %w", err)
	}
	f.client.observe(strconv.Itoa(resp.StatusCode), start)
	return resp, nil
}
