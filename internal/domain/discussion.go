package domain

import (
	"errors"
	"time"
)

// HumanSender is the sender value of messages written by the human moderator.
const HumanSender = "human"

type Role string

const (
	RolePrimary Role = "primary"
	RoleCritic  Role = "critic"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
	ProviderScripted  Provider = "scripted"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Participant is one of the two generation backends bound to a discussion.
// It never changes after the discussion is created.
type Participant struct {
	ID           string   `json:"id"`
	Provider     Provider `json:"provider"`
	ModelID      string   `json:"modelId"`
	DisplayName  string   `json:"displayName"`
	SystemPrompt string   `json:"systemPrompt"`
	Role         Role     `json:"role"`
}

// Message is a single transcript entry. Sender is HumanSender or a participant id.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Discussion is a snapshot of a discussion and its append-only transcript.
type Discussion struct {
	ID           string        `json:"id"`
	Topic        string        `json:"topic"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
	Status       Status        `json:"status"`
}

// ParticipantByRole returns the participant holding role.
func (d Discussion) ParticipantByRole(role Role) (Participant, bool) {
	for _, p := range d.Participants {
		if p.Role == role {
			return p, true
		}
	}
	return Participant{}, false
}

// LastMessage returns the tail of the transcript.
func (d Discussion) LastMessage() (Message, bool) {
	if len(d.Messages) == 0 {
		return Message{}, false
	}
	return d.Messages[len(d.Messages)-1], true
}

// ErrDiscussionNotFound is returned for ids that were never created.
var ErrDiscussionNotFound = errors.New("discussion not found")
