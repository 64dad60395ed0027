package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"discussion-agent/internal/domain"
	"discussion-agent/internal/events"
)

const (
	defaultTurnDelay  = 2 * time.Second
	archiveTimeout    = 5 * time.Second
	defaultSinkBuffer = events.DefaultSinkBuffer
)

// Generator streams one completion from a generation backend.
type Generator interface {
	StreamResponse(ctx context.Context, modelID, systemPrompt string, history []domain.Message, prompt string) (domain.FragmentStream, error)
}

type DiscussionStore interface {
	Create(topic string, participants []domain.Participant) (string, error)
	Get(id string) (domain.Discussion, error)
	AppendMessage(id string, msg domain.Message) error
	TurnFlag(id string) (bool, error)
	Stop(id string) (bool, error)
}

type Publisher interface {
	Attach(discussionID string, sink events.Sink)
	Detach(discussionID string, sink events.Sink) bool
	Publish(discussionID string, event domain.StreamEvent)
}

// Archiver receives a copy of discussion state as it changes.
type Archiver interface {
	ArchiveDiscussion(ctx context.Context, d domain.Discussion) error
	ArchiveMessage(ctx context.Context, discussionID string, position int, msg domain.Message) error
}

type DiscussionService struct {
	store      DiscussionStore
	publisher  Publisher
	generators map[domain.Provider]Generator
	archiver   Archiver
	logger     *slog.Logger
	turnDelay  time.Duration
	sinkBuffer int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*session
}

type Option func(*DiscussionService)

// WithTurnDelay sets the pause before each alternating turn.
func WithTurnDelay(d time.Duration) Option {
	return func(s *DiscussionService) {
		s.turnDelay = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *DiscussionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithArchiver(a Archiver) Option {
	return func(s *DiscussionService) {
		s.archiver = a
	}
}

func WithSinkBuffer(n int) Option {
	return func(s *DiscussionService) {
		s.sinkBuffer = n
	}
}

type StartInput struct {
	Topic        string
	Participants []domain.Participant
}

type StartOutput struct {
	DiscussionID string
}

type InterveneOutput struct {
	MessageID string
}

func NewDiscussionService(store DiscussionStore, publisher Publisher, generators map[domain.Provider]Generator, opts ...Option) (*DiscussionService, error) {
	if store == nil {
		return nil, errors.New("usecase: discussion store must not be nil")
	}
	if publisher == nil {
		return nil, errors.New("usecase: publisher must not be nil")
	}
	if len(generators) == 0 {
		return nil, errors.New("usecase: at least one generator is required")
	}
	gens := make(map[domain.Provider]Generator, len(generators))
	for provider, g := range generators {
		if g == nil {
			return nil, fmt.Errorf("usecase: generator for %q must not be nil", provider)
		}
		gens[provider] = g
	}

	s := &DiscussionService{
		store:      store,
		publisher:  publisher,
		generators: gens,
		logger:     slog.Default(),
		turnDelay:  defaultTurnDelay,
		sinkBuffer: defaultSinkBuffer,
		sessions:   make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.turnDelay < 0 {
		s.turnDelay = 0
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Start creates a discussion and launches its loop in the background.
func (s *DiscussionService) Start(ctx context.Context, in StartInput) (StartOutput, error) {
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return StartOutput{}, newError(ErrorInvalidInput, "empty_topic", nil)
	}
	if err := s.validateParticipants(in.Participants); err != nil {
		return StartOutput{}, err
	}
	if s.ctx.Err() != nil {
		return StartOutput{}, newError(ErrorInternal, "shutting_down", s.ctx.Err())
	}

	id, err := s.store.Create(topic, in.Participants)
	if err != nil {
		return StartOutput{}, newError(ErrorInvalidInput, "invalid_participants", err)
	}
	sess := newSession()
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	if d, err := s.store.Get(id); err == nil {
		s.archiveDiscussion(ctx, d)
	}

	s.logger.Info("discussion started", "discussion_id", id, "topic_len", len(topic))
	s.wg.Add(1)
	go s.run(id, sess)
	return StartOutput{DiscussionID: id}, nil
}

// Intervene appends a human message and makes the primary participant answer it next.
func (s *DiscussionService) Intervene(ctx context.Context, discussionID, content string) (InterveneOutput, error) {
	if strings.TrimSpace(content) == "" {
		return InterveneOutput{}, newError(ErrorInvalidInput, "empty_content", nil)
	}
	sess, err := s.session(discussionID)
	if err != nil {
		return InterveneOutput{}, err
	}

	msg := domain.Message{
		ID:        newUUID(),
		Sender:    domain.HumanSender,
		Content:   content,
		Timestamp: now(),
	}

	sess.mu.Lock()
	d, err := s.store.Get(discussionID)
	if err != nil {
		sess.mu.Unlock()
		return InterveneOutput{}, s.storeError(err)
	}
	if d.Status == domain.StatusStopped {
		sess.mu.Unlock()
		return InterveneOutput{}, newError(ErrorDiscussionStopped, "discussion_stopped", nil)
	}
	if err := s.store.AppendMessage(discussionID, msg); err != nil {
		sess.mu.Unlock()
		return InterveneOutput{}, s.storeError(err)
	}
	position := sess.appended
	sess.appended++
	s.publisher.Publish(discussionID, domain.MessageStartEvent(msg))
	sess.pending = content
	sess.hasPending = true
	sess.mu.Unlock()

	sess.signal()
	s.logger.Info("human intervention", "discussion_id", discussionID, "message_id", msg.ID)
	s.archiveMessage(ctx, discussionID, position, msg)
	return InterveneOutput{MessageID: msg.ID}, nil
}

// Stop ends the discussion. Calling it again has no further effect.
func (s *DiscussionService) Stop(ctx context.Context, discussionID string) error {
	sess, err := s.session(discussionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	changed, err := s.store.Stop(discussionID)
	sess.mu.Unlock()
	if err != nil {
		return s.storeError(err)
	}
	if !changed {
		return nil
	}

	sess.signal()
	s.logger.Info("discussion stopped", "discussion_id", discussionID)
	if d, err := s.store.Get(discussionID); err == nil {
		s.archiveDiscussion(ctx, d)
	}
	return nil
}

func (s *DiscussionService) Get(_ context.Context, discussionID string) (domain.Discussion, error) {
	d, err := s.store.Get(discussionID)
	if err != nil {
		return domain.Discussion{}, s.storeError(err)
	}
	return d, nil
}

// Subscribe attaches a new observer to the discussion's event stream. The
// returned function detaches it.
func (s *DiscussionService) Subscribe(_ context.Context, discussionID string) (*events.ChannelSink, func(), error) {
	if _, err := s.store.Get(discussionID); err != nil {
		return nil, nil, s.storeError(err)
	}
	sink := events.NewChannelSink(s.sinkBuffer)
	s.publisher.Attach(discussionID, sink)
	var once sync.Once
	detach := func() {
		once.Do(func() {
			s.publisher.Detach(discussionID, sink)
			sink.Close()
		})
	}
	return sink, detach, nil
}

// Shutdown cancels every running loop and waits for them to return.
func (s *DiscussionService) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("usecase: shutdown: %w", ctx.Err())
	}
}

func (s *DiscussionService) validateParticipants(participants []domain.Participant) error {
	if len(participants) != 2 {
		return newError(ErrorInvalidInput, "participant_count", nil)
	}
	seen := make(map[domain.Role]bool, 2)
	for _, p := range participants {
		if p.Role != domain.RolePrimary && p.Role != domain.RoleCritic {
			return newError(ErrorInvalidInput, "participant_role", nil)
		}
		seen[p.Role] = true
		if strings.TrimSpace(p.ID) == "" || p.ID == domain.HumanSender {
			return newError(ErrorInvalidInput, "participant_id", nil)
		}
		if strings.TrimSpace(p.ModelID) == "" {
			return newError(ErrorInvalidInput, "participant_model", nil)
		}
		if _, ok := s.generators[p.Provider]; !ok {
			return newError(ErrorInvalidInput, "unsupported_provider", fmt.Errorf("provider %q", p.Provider))
		}
	}
	if !seen[domain.RolePrimary] || !seen[domain.RoleCritic] {
		return newError(ErrorInvalidInput, "participant_role", nil)
	}
	if participants[0].ID == participants[1].ID {
		return newError(ErrorInvalidInput, "participant_id", nil)
	}
	return nil
}

func (s *DiscussionService) session(discussionID string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[discussionID]
	s.mu.RUnlock()
	if !ok {
		return nil, newError(ErrorNotFound, "discussion_not_found", domain.ErrDiscussionNotFound)
	}
	return sess, nil
}

func (s *DiscussionService) storeError(err error) error {
	if errors.Is(err, domain.ErrDiscussionNotFound) {
		return newError(ErrorNotFound, "discussion_not_found", err)
	}
	return newError(ErrorInternal, "store_error", err)
}

func (s *DiscussionService) archiveDiscussion(ctx context.Context, d domain.Discussion) {
	if s.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := s.archiver.ArchiveDiscussion(ctx, d); err != nil {
		s.logger.Warn("failed to archive discussion", "discussion_id", d.ID, "err", err)
	}
}

func (s *DiscussionService) archiveMessage(ctx context.Context, discussionID string, position int, msg domain.Message) {
	if s.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := s.archiver.ArchiveMessage(ctx, discussionID, position, msg); err != nil {
		s.logger.Warn("failed to archive message", "discussion_id", discussionID, "message_id", msg.ID, "err", err)
	}
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = func() time.Time {
	return time.Now().UTC()
}
