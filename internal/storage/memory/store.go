package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"discussion-agent/internal/domain"
)

// ErrInvalidParticipants is returned by Create unless it gets exactly one
// primary and one critic.
var ErrInvalidParticipants = errors.New("memory: a discussion needs exactly one primary and one critic")

// Store is the in-memory record of every discussion. Records are never
// removed for the lifetime of the process.
type Store struct {
	mu          sync.RWMutex
	discussions map[string]*record
}

type record struct {
	mu           sync.RWMutex
	id           string
	topic        string
	participants []domain.Participant
	messages     []domain.Message
	status       domain.Status
	turnFlag     bool
}

func New() *Store {
	return &Store{discussions: make(map[string]*record)}
}

// Create registers a running discussion and returns its id.
func (s *Store) Create(topic string, participants []domain.Participant) (string, error) {
	if err := validateParticipants(participants); err != nil {
		return "", err
	}

	rec := &record{
		id:           newID(),
		topic:        topic,
		participants: append([]domain.Participant(nil), participants...),
		status:       domain.StatusRunning,
		turnFlag:     true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.discussions[rec.id] = rec
	return rec.id, nil
}

// Get returns a snapshot. The transcript of a later snapshot always has the
// transcript of an earlier one as its prefix.
func (s *Store) Get(id string) (domain.Discussion, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return domain.Discussion{}, err
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()
	messages := make([]domain.Message, len(rec.messages))
	copy(messages, rec.messages)
	participants := make([]domain.Participant, len(rec.participants))
	copy(participants, rec.participants)
	return domain.Discussion{
		ID:           rec.id,
		Topic:        rec.topic,
		Participants: participants,
		Messages:     messages,
		Status:       rec.status,
	}, nil
}

func (s *Store) AppendMessage(id string, msg domain.Message) error {
	rec, err := s.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.messages = append(rec.messages, msg)
	return nil
}

func (s *Store) SetStatus(id string, status domain.Status) error {
	rec, err := s.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.status = status
	return nil
}

func (s *Store) SetTurnFlag(id string, allowed bool) error {
	rec, err := s.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.turnFlag = allowed
	return nil
}

// TurnFlag reports whether the loop may keep scheduling turns.
func (s *Store) TurnFlag(id string) (bool, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return false, err
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.turnFlag, nil
}

// Stop marks the discussion stopped and clears its turn flag together.
// changed is false when the discussion was already fully stopped.
func (s *Store) Stop(id string) (changed bool, err error) {
	rec, err := s.lookup(id)
	if err != nil {
		return false, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	changed = rec.status != domain.StatusStopped || rec.turnFlag
	rec.status = domain.StatusStopped
	rec.turnFlag = false
	return changed, nil
}

func (s *Store) lookup(id string) (*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.discussions[id]
	if !ok {
		return nil, fmt.Errorf("memory: %w: %q", domain.ErrDiscussionNotFound, id)
	}
	return rec, nil
}

func validateParticipants(participants []domain.Participant) error {
	if len(participants) != 2 {
		return fmt.Errorf("%w: got %d participants", ErrInvalidParticipants, len(participants))
	}
	var primaries, critics int
	for _, p := range participants {
		switch p.Role {
		case domain.RolePrimary:
			primaries++
		case domain.RoleCritic:
			critics++
		}
	}
	if primaries != 1 || critics != 1 {
		return ErrInvalidParticipants
	}
	return nil
}

var newID = func() string {
	return uuid.NewString()
}
