package domain

type EventType string

const (
	EventToken        EventType = "token"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
	EventMessageStart EventType = "message_start"
)

// StreamEvent is a transient notification pushed to discussion observers.
// Which fields are set depends on Type.
type StreamEvent struct {
	Type          EventType `json:"type"`
	ParticipantID string    `json:"participantId,omitempty"`
	Token         string    `json:"token,omitempty"`
	MessageID     string    `json:"messageId,omitempty"`
	Error         string    `json:"error,omitempty"`
	Message       *Message  `json:"message,omitempty"`
}

func TokenEvent(participantID, messageID, token string) StreamEvent {
	return StreamEvent{Type: EventToken, ParticipantID: participantID, MessageID: messageID, Token: token}
}

func CompleteEvent(participantID, messageID string) StreamEvent {
	return StreamEvent{Type: EventComplete, ParticipantID: participantID, MessageID: messageID}
}

func ErrorEvent(participantID, message string) StreamEvent {
	return StreamEvent{Type: EventError, ParticipantID: participantID, Error: message}
}

func MessageStartEvent(msg Message) StreamEvent {
	return StreamEvent{Type: EventMessageStart, Message: &msg}
}
