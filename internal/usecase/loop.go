package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"discussion-agent/internal/domain"
)

var errEmptyTranscript = errors.New("usecase: next speaker requested on an empty transcript")

// session holds the loop-side state of one discussion. mu serializes turn
// completion, interventions and stops so that a message is never appended
// after a stop or an intervention that should have discarded it.
type session struct {
	mu         sync.Mutex
	appended   int
	pending    string
	hasPending bool

	wake chan struct{}
}

func newSession() *session {
	return &session{wake: make(chan struct{}, 1)}
}

// signal wakes the loop out of its quiescence wait.
func (s *session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *session) takePending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPending {
		return "", false
	}
	prompt := s.pending
	s.pending, s.hasPending = "", false
	select {
	case <-s.wake:
	default:
	}
	return prompt, true
}

func (s *session) interventionPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasPending
}

type turnOutcome int

const (
	turnCompleted turnOutcome = iota
	turnAbandoned
	turnFailed
)

func (s *DiscussionService) run(discussionID string, sess *session) {
	defer s.wg.Done()
	logger := s.logger.With("discussion_id", discussionID)

	if err := s.loop(s.ctx, discussionID, sess, logger); err != nil {
		logger.Error("discussion loop aborted", "err", err)
		sess.mu.Lock()
		_, _ = s.store.Stop(discussionID)
		sess.mu.Unlock()
		return
	}
	logger.Info("discussion loop finished")
}

func (s *DiscussionService) loop(ctx context.Context, discussionID string, sess *session, logger *slog.Logger) error {
	d, err := s.store.Get(discussionID)
	if err != nil {
		return err
	}
	primary, ok := d.ParticipantByRole(domain.RolePrimary)
	if !ok {
		return errors.New("usecase: discussion has no primary participant")
	}
	critic, ok := d.ParticipantByRole(domain.RoleCritic)
	if !ok {
		return errors.New("usecase: discussion has no critic participant")
	}

	if !s.turnAllowed(discussionID) {
		return nil
	}
	s.turn(ctx, discussionID, sess, primary, nil, d.Topic, logger)

	for {
		if ctx.Err() != nil || !s.turnAllowed(discussionID) {
			return nil
		}
		if prompt, ok := sess.takePending(); ok {
			s.answerIntervention(ctx, discussionID, sess, primary, prompt, logger)
			continue
		}

		if !s.pause(ctx, sess) {
			return nil
		}
		if !s.turnAllowed(discussionID) {
			return nil
		}
		if prompt, ok := sess.takePending(); ok {
			s.answerIntervention(ctx, discussionID, sess, primary, prompt, logger)
			continue
		}

		d, err := s.store.Get(discussionID)
		if err != nil {
			return err
		}
		speaker, history, prompt, err := nextTurn(d, primary, critic)
		if err != nil {
			return err
		}
		if s.turn(ctx, discussionID, sess, speaker, history, prompt, logger) == turnFailed {
			return nil
		}
	}
}

// pause waits out the quiescence interval. An intervention or a stop ends
// the wait early. It returns false once the service is shutting down.
func (s *DiscussionService) pause(ctx context.Context, sess *session) bool {
	timer := time.NewTimer(s.turnDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-sess.wake:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *DiscussionService) answerIntervention(ctx context.Context, discussionID string, sess *session, primary domain.Participant, prompt string, logger *slog.Logger) {
	d, err := s.store.Get(discussionID)
	if err != nil {
		logger.Error("failed to load discussion for intervention", "err", err)
		return
	}
	history := d.Messages
	if n := len(history); n > 0 && history[n-1].Sender == domain.HumanSender {
		history = history[:n-1]
	}
	s.turn(ctx, discussionID, sess, primary, history, prompt, logger)
}

// nextTurn picks the participant that did not send the transcript tail and
// uses the tail as its prompt. A human tail always goes to the primary.
func nextTurn(d domain.Discussion, primary, critic domain.Participant) (domain.Participant, []domain.Message, string, error) {
	last, ok := d.LastMessage()
	if !ok {
		return domain.Participant{}, nil, "", errEmptyTranscript
	}
	speaker := primary
	if last.Sender == primary.ID {
		speaker = critic
	}
	return speaker, d.Messages[:len(d.Messages)-1], last.Content, nil
}

// turn runs one generation for p. Partial output is discarded when the turn
// flag is cleared or an intervention arrives while fragments are streaming.
func (s *DiscussionService) turn(ctx context.Context, discussionID string, sess *session, p domain.Participant, history []domain.Message, prompt string, logger *slog.Logger) turnOutcome {
	messageID := newUUID()
	logger = logger.With("participant_id", p.ID, "message_id", messageID)
	logger.Info("turn started", "participant", p.DisplayName, "provider", p.Provider, "model", p.ModelID)

	gen := s.generators[p.Provider]
	stream, err := gen.StreamResponse(ctx, p.ModelID, p.SystemPrompt, history, prompt)
	if err != nil {
		return s.failTurn(ctx, discussionID, sess, p, err, logger)
	}
	defer func() { _ = stream.Close() }()

	var content strings.Builder
	for {
		fragment, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.failTurn(ctx, discussionID, sess, p, err, logger)
		}
		if !s.turnAllowed(discussionID) || sess.interventionPending() {
			logger.Info("turn abandoned while streaming", "chars", content.Len())
			return turnAbandoned
		}
		s.publisher.Publish(discussionID, domain.TokenEvent(p.ID, messageID, fragment))
		content.WriteString(fragment)
	}

	msg := domain.Message{
		ID:        messageID,
		Sender:    p.ID,
		Content:   content.String(),
		Timestamp: now(),
	}

	sess.mu.Lock()
	if sess.hasPending || !s.turnAllowed(discussionID) {
		sess.mu.Unlock()
		logger.Info("turn abandoned before completion", "chars", content.Len())
		return turnAbandoned
	}
	if err := s.store.AppendMessage(discussionID, msg); err != nil {
		sess.mu.Unlock()
		logger.Error("failed to append message", "err", err)
		return turnAbandoned
	}
	position := sess.appended
	sess.appended++
	s.publisher.Publish(discussionID, domain.CompleteEvent(p.ID, messageID))
	sess.mu.Unlock()

	logger.Info("turn completed", "chars", content.Len())
	s.archiveMessage(ctx, discussionID, position, msg)
	return turnCompleted
}

// failTurn reports a generation error and stops the discussion. Errors caused
// by the service shutting down are not reported to observers.
func (s *DiscussionService) failTurn(ctx context.Context, discussionID string, sess *session, p domain.Participant, err error, logger *slog.Logger) turnOutcome {
	if ctx.Err() != nil {
		logger.Info("turn interrupted by shutdown", "err", err)
		return turnAbandoned
	}
	genErr := generationError(p.Provider, err)
	logger.Error("generation failed", "code", genErr.Code, "reason", genErr.Reason, "err", err)

	sess.mu.Lock()
	_, stopErr := s.store.Stop(discussionID)
	s.publisher.Publish(discussionID, domain.ErrorEvent(p.ID, err.Error()))
	sess.mu.Unlock()
	if stopErr != nil {
		logger.Error("failed to stop discussion after generation error", "err", stopErr)
	}

	if d, err := s.store.Get(discussionID); err == nil {
		s.archiveDiscussion(ctx, d)
	}
	return turnFailed
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// generationError classifies a backend failure for logging.
func generationError(provider domain.Provider, err error) *Error {
	status, ok := upstreamStatusCode(err)
	switch {
	case !ok:
		return newError(ErrorUpstream, string(provider)+"_error", err)
	case status == 429:
		return newError(ErrorUpstream, string(provider)+"_rate_limited", err)
	case status == 401 || status == 403:
		return newError(ErrorUpstream, string(provider)+"_unauthorized", err)
	default:
		return newError(ErrorUpstream, string(provider)+"_error", err)
	}
}

func (s *DiscussionService) turnAllowed(discussionID string) bool {
	allowed, err := s.store.TurnFlag(discussionID)
	return err == nil && allowed
}
