package domain

// ChatMessage is the provider-agnostic chat message shape used by the
// HTTP-based generation backends.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatHistory maps transcript entries onto user/assistant turns. Human
// messages become user turns, participant messages become assistant turns.
func ChatHistory(history []Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		role := "assistant"
		if m.Sender == HumanSender {
			role = "user"
		}
		out = append(out, ChatMessage{Role: role, Content: m.Content})
	}
	return out
}

// historyPreamble opens an alternating conversation whose transcript starts
// with an assistant turn.
const historyPreamble = "(conversation so far)"

// AlternatingChat builds a user-first conversation with strictly alternating
// roles, as required by the Messages and Converse APIs. Adjacent turns with
// the same role are joined with a blank line.
func AlternatingChat(history []Message, prompt string) []ChatMessage {
	chat := append(ChatHistory(history), ChatMessage{Role: "user", Content: prompt})
	out := make([]ChatMessage, 0, len(chat)+1)
	for _, m := range chat {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	if out[0].Role != "user" {
		out = append([]ChatMessage{{Role: "user", Content: historyPreamble}}, out...)
	}
	return out
}
