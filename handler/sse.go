package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"discussion-agent/internal/domain"
)

var errNoFlusher = errors.New("handler: response writer does not support flushing")

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func startSSE(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlusher
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeEvent emits one unnamed frame. Events are single-line JSON.
func (s *sseWriter) writeEvent(event domain.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(s.w, "data: "); err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if _, err := io.WriteString(s.w, "\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) writeKeepAlive() error {
	if _, err := io.WriteString(s.w, ":keep-alive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// stream attaches the client as an observer until it disconnects, the write
// fails, or its sink is dropped for falling behind.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sink, detach, err := h.svc.Subscribe(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer detach()

	writer, err := startSSE(w)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	logger := h.logger.With("discussion_id", id, "correlation_id", correlationID(r.Context()))
	logger.Info("stream client connected")
	defer logger.Info("stream client disconnected")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := writer.writeKeepAlive(); err != nil {
				return
			}
		case event, ok := <-sink.Events():
			if !ok {
				return
			}
			if err := writer.writeEvent(event); err != nil {
				logger.Warn("stream write failed", "err", err)
				return
			}
		}
	}
}
