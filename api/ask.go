package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/seenimoa/portiq/internal/agent"
	"github.com/seenimoa/portiq/pkg/models"
)

// Asker answers free-text questions from retrieved documents.
type Asker interface {
	Ask(ctx context.Context, req models.AskRequest) (*models.AskResponse, error)
	AskStream(ctx context.Context, req models.AskRequest, onSources func([]models.Document) error, onDelta func(string) error) error
}

var _ Asker = (*agent.Answerer)(nil)

// Stream event types sent by the /stream endpoints.
const (
	SSESourceDocuments = "source_documents"
	SSETextDelta       = "text_delta"
	SSEStreamCompleted = "stream_completed"
	SSEError           = "error"
)

// decodeAsk reads and validates an ask request, writing the 4xx itself.
func (s *Server) decodeAsk(w http.ResponseWriter, r *http.Request) (models.AskRequest, bool) {
	var req models.AskRequest
	if s.asker == nil {
		writeError(w, http.StatusServiceUnavailable, "question answering is not configured")
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "query is required; limit must be 1-100 and temperature 0-2")
		return req, false
	}
	return req, true
}

func askStatusFor(err error) (int, string) {
	if errors.Is(err, agent.ErrEmptyQuery) {
		return http.StatusBadRequest, agent.ErrEmptyQuery.Error()
	}
	return http.StatusInternalServerError, "answer generation failed"
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}

	resp, err := s.asker.Ask(r.Context(), req)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"operation":  "ask",
			"request_id": middleware.GetReqID(r.Context()),
		}).WithError(err).Error("ask failed")
		status, msg := askStatusFor(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

// handleAskStream answers over server-sent events: the source documents
// first, then text deltas, then stream_completed or error.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()

	sse := &sseWriter{w: w, flusher: flusher}
	started := false
	err := s.asker.AskStream(ctx, req,
		func(docs []models.Document) error {
			h := w.Header()
			h.Set("Content-Type", "text/event-stream")
			h.Set("Cache-Control", "no-cache")
			h.Set("Connection", "keep-alive")
			h.Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
			return sse.send(SSESourceDocuments, map[string]any{"documents": docs})
		},
		func(delta string) error {
			return sse.send(SSETextDelta, map[string]any{"delta": delta})
		})

	log := s.log.WithFields(logrus.Fields{
		"operation":  "ask_stream",
		"request_id": middleware.GetReqID(r.Context()),
	})
	switch {
	case err == nil:
		_ = sse.send(SSEStreamCompleted, nil)
	case !started:
		log.WithError(err).Error("ask stream failed before sending")
		status, msg := askStatusFor(err)
		writeError(w, status, msg)
	default:
		log.WithError(err).Error("ask stream failed")
		_ = sse.send(SSEError, map[string]any{"message": "answer generation failed"})
	}
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// send writes one event. The payload always carries the type so clients
// that only read data lines can dispatch on it.
func (s *sseWriter) send(eventType string, fields map[string]any) error {
	payload := map[string]any{"type": eventType}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
