package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"discussion-agent/internal/domain"
	"discussion-agent/internal/events"
	"discussion-agent/internal/usecase"
)

const (
	defaultKeepAlive = 15 * time.Second
	maxBodyBytes     = 1 << 20
)

// DiscussionService is the usecase surface the HTTP boundary drives.
type DiscussionService interface {
	Start(ctx context.Context, in usecase.StartInput) (usecase.StartOutput, error)
	Get(ctx context.Context, discussionID string) (domain.Discussion, error)
	Intervene(ctx context.Context, discussionID, content string) (usecase.InterveneOutput, error)
	Stop(ctx context.Context, discussionID string) error
	Subscribe(ctx context.Context, discussionID string) (*events.ChannelSink, func(), error)
}

type startRequest struct {
	Topic        string               `json:"topic"`
	Participants []domain.Participant `json:"participants"`
}

type startResponse struct {
	DiscussionID string `json:"discussionId"`
}

type interventionRequest struct {
	Content string `json:"content"`
}

type interventionResponse struct {
	MessageID string `json:"messageId"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Handler struct {
	svc       DiscussionService
	logger    *slog.Logger
	keepAlive time.Duration
}

type Option func(*Handler)

// WithKeepAlive sets the interval between keep-alive comments on open streams.
func WithKeepAlive(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

func NewHandler(svc DiscussionService, logger *slog.Logger, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: discussion service must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{svc: svc, logger: logger, keepAlive: defaultKeepAlive}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes serves every discussion route under both /discussions and
// /api/discussions, plus GET /health.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	for _, prefix := range []string{"/discussions", "/api/discussions"} {
		mux.HandleFunc("POST "+prefix+"/start", h.start)
		mux.HandleFunc("GET "+prefix+"/{id}", h.get)
		mux.HandleFunc("GET "+prefix+"/{id}/stream", h.stream)
		mux.HandleFunc("POST "+prefix+"/{id}/intervention", h.intervene)
		mux.HandleFunc("POST "+prefix+"/{id}/stop", h.stop)
	}
	return chainMiddlewares(mux, h.withLogging, withCorrelationID, withCORS)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now().UTC().Format(time.RFC3339Nano)})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.svc.Start(r.Context(), usecase.StartInput{Topic: req.Topic, Participants: req.Participants})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{DiscussionID: out.DiscussionID})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) intervene(w http.ResponseWriter, r *http.Request) {
	var req interventionRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.svc.Intervene(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interventionResponse{MessageID: out.MessageID})
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Stop(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: string(domain.StatusStopped)})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
		return false
	}
	return true
}

// errorMessages gives observers a readable message per failure reason.
var errorMessages = map[string]string{
	"invalid_body":         "Request body must be valid JSON",
	"empty_topic":          "Topic is required",
	"participant_count":    "Exactly 2 participants are required",
	"participant_role":     "One primary and one critic participant are required",
	"participant_id":       "Participants need distinct, non-reserved ids",
	"participant_model":    "Every participant needs a model id",
	"unsupported_provider": "Participant provider is not available",
	"invalid_participants": "Participants are invalid",
	"empty_content":        "Message content is required",
	"discussion_stopped":   "Discussion has been stopped",
	"discussion_not_found": "Discussion not found",
	"shutting_down":        "Server is shutting down",
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := string(usecase.ErrorInternal)
	message := http.StatusText(status)

	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		code = string(ucErr.Code)
		status = statusForCode(ucErr.Code)
		message = http.StatusText(status)
		if m, ok := errorMessages[ucErr.Reason]; ok {
			message = m
		}
	}

	logger := h.logger.With("path", r.URL.Path, "status", status, "correlation_id", correlationID(r.Context()), "err", err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed")
	} else {
		logger.Warn("request rejected")
	}
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func statusForCode(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorDiscussionStopped:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
