package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParticipantByRole(t *testing.T) {
	d := Discussion{Participants: []Participant{
		{ID: "a", Role: RoleCritic},
		{ID: "b", Role: RolePrimary},
	}}

	p, ok := d.ParticipantByRole(RolePrimary)
	require.True(t, ok)
	require.Equal(t, "b", p.ID)

	p, ok = d.ParticipantByRole(RoleCritic)
	require.True(t, ok)
	require.Equal(t, "a", p.ID)

	_, ok = Discussion{}.ParticipantByRole(RolePrimary)
	require.False(t, ok)
}

func TestLastMessage(t *testing.T) {
	_, ok := Discussion{}.LastMessage()
	require.False(t, ok)

	d := Discussion{Messages: []Message{{ID: "1"}, {ID: "2"}}}
	m, ok := d.LastMessage()
	require.True(t, ok)
	require.Equal(t, "2", m.ID)
}

func TestChatHistory(t *testing.T) {
	got := ChatHistory([]Message{
		{Sender: "p1", Content: "one"},
		{Sender: HumanSender, Content: "two"},
		{Sender: "p2", Content: "three"},
	})
	require.Equal(t, []ChatMessage{
		{Role: "assistant", Content: "one"},
		{Role: "user", Content: "two"},
		{Role: "assistant", Content: "three"},
	}, got)
	require.Empty(t, ChatHistory(nil))
}

func TestAlternatingChat(t *testing.T) {
	cases := []struct {
		name    string
		history []Message
		want    []ChatMessage
	}{
		{
			name: "prompt only",
			want: []ChatMessage{{Role: "user", Content: "p"}},
		},
		{
			name:    "assistant first gets a preamble",
			history: []Message{{Sender: "p1", Content: "a"}},
			want: []ChatMessage{
				{Role: "user", Content: historyPreamble},
				{Role: "assistant", Content: "a"},
				{Role: "user", Content: "p"},
			},
		},
		{
			name: "same-role neighbours are joined",
			history: []Message{
				{Sender: HumanSender, Content: "h"},
				{Sender: "p1", Content: "a"},
				{Sender: "p2", Content: "b"},
				{Sender: HumanSender, Content: "h2"},
			},
			want: []ChatMessage{
				{Role: "user", Content: "h"},
				{Role: "assistant", Content: "a\n\nb"},
				{Role: "user", Content: "h2\n\np"},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, AlternatingChat(tc.history, "p"))
		})
	}
}

func TestEventConstructors(t *testing.T) {
	require.Equal(t, StreamEvent{Type: EventToken, ParticipantID: "p", MessageID: "m", Token: "t"}, TokenEvent("p", "m", "t"))
	require.Equal(t, StreamEvent{Type: EventComplete, ParticipantID: "p", MessageID: "m"}, CompleteEvent("p", "m"))
	require.Equal(t, StreamEvent{Type: EventError, ParticipantID: "p", Error: "boom"}, ErrorEvent("p", "boom"))

	msg := Message{ID: "h1", Sender: HumanSender, Content: "hi"}
	ev := MessageStartEvent(msg)
	require.Equal(t, EventMessageStart, ev.Type)
	require.Empty(t, ev.MessageID)
	require.Equal(t, &msg, ev.Message)
}
