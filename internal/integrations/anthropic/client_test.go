package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"discussion-agent/internal/domain"
)

type fakeKey struct {
	key string
	err error
}

func (f *fakeKey) Resolve(context.Context) (string, error) {
	return f.key, f.err
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(&fakeKey{key: "ak-test"}, WithBaseURL(url), WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	require.NoError(t, err)
	return c
}

func drain(t *testing.T, s domain.FragmentStream) ([]string, error) {
	t.Helper()
	defer func() { _ = s.Close() }()
	var out []string
	for {
		frag, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, frag)
	}
}

func writeEvent(w io.Writer, event, data string) {
	_, _ = io.WriteString(w, "event: "+event+"\ndata: "+data+"\n\n")
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func TestMessagesURL(t *testing.T) {
	require.Equal(t, "https://api.anthropic.com/v1/messages", messagesURL(""))
	require.Equal(t, "https://api.anthropic.com/v1/messages", messagesURL("https://api.anthropic.com/"))
	require.Equal(t, "http://proxy/v1/messages", messagesURL("http://proxy/v1"))
}

func TestBuildMessages(t *testing.T) {
	cases := []struct {
		name    string
		history []domain.Message
		prompt  string
		want    []message
	}{
		{
			name:   "opening turn",
			prompt: "topic",
			want:   []message{{Role: "user", Content: "topic"}},
		},
		{
			name: "merges adjacent user turns",
			history: []domain.Message{
				{Sender: "p1", Content: "a"},
				{Sender: domain.HumanSender, Content: "b"},
			},
			prompt: "c",
			want: []message{
				{Role: "user", Content: "(conversation so far)"},
				{Role: "assistant", Content: "a"},
				{Role: "user", Content: "b\n\nc"},
			},
		},
		{
			name: "merges adjacent assistant turns",
			history: []domain.Message{
				{Sender: domain.HumanSender, Content: "q"},
				{Sender: "p1", Content: "a"},
				{Sender: "p2", Content: "b"},
			},
			prompt: "c",
			want: []message{
				{Role: "user", Content: "q"},
				{Role: "assistant", Content: "a\n\nb"},
				{Role: "user", Content: "c"},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, buildMessages(tc.history, tc.prompt))
		})
	}
}

func TestNewClient_NilKey(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// StreamResponse
// ---------------------------------------------------------------------------

func TestStreamResponse_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		require.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "claude-test", req.Model)
		require.Equal(t, "you are a critic", req.System)
		require.Equal(t, 4096, req.MaxTokens)
		require.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "message_start", `{"type":"message_start"}`)
		writeEvent(w, "content_block_start", `{"type":"content_block_start"}`)
		writeEvent(w, "ping", `{"type":"ping"}`)
		writeEvent(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"Good"}}`)
		writeEvent(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":" point"}}`)
		writeEvent(w, "message_stop", `{"type":"message_stop"}`)
		writeEvent(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"ignored"}}`)
	}))
	defer srv.Close()

	stream, err := newTestClient(t, srv.URL).StreamResponse(context.Background(), "claude-test", "you are a critic", nil, "topic")
	require.NoError(t, err)
	frags, err := drain(t, stream)
	require.NoError(t, err)
	require.Equal(t, []string{"Good", " point"}, frags)
}

func TestStreamResponse_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"x"}}`)
		writeEvent(w, "error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	defer srv.Close()

	stream, err := newTestClient(t, srv.URL).StreamResponse(context.Background(), "claude-test", "", nil, "p")
	require.NoError(t, err)
	frags, err := drain(t, stream)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Overloaded")
	require.Equal(t, []string{"x"}, frags)
}

func TestStreamResponse_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).StreamResponse(context.Background(), "claude-test", "", nil, "p")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.HTTPStatusCode())
}

func TestStreamResponse_KeyError(t *testing.T) {
	c, err := NewClient(&fakeKey{err: errors.New("missing")})
	require.NoError(t, err)
	_, err = c.StreamResponse(context.Background(), "claude-test", "", nil, "p")
	require.ErrorContains(t, err, "resolve api key")
}

func TestStreamResponse_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeKey{key: "k"})
	require.NoError(t, err)
	_, err = c.StreamResponse(context.Background(), "", "", nil, "p")
	require.ErrorContains(t, err, "model")
}
