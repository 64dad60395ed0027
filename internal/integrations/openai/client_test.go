package openai

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

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

type fakeKey struct {
	key string
	err error
}

func (f *fakeKey) Resolve(context.Context) (string, error) {
	return f.key, f.err
}

func TestNewClient_NilKey(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_Valid(t *testing.T) {
	c, err := NewClient(&fakeKey{key: "sk"})
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
	require.NotNil(t, c.httpClient)
}

// ---------------------------------------------------------------------------
// Client.StreamResponse
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeKey{key: "sk-test"},
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, s domain.FragmentStream) ([]string, error) {
	t.Helper()
	defer func() { require.NoError(t, s.Close()) }()
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

func TestStreamResponse_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)
		require.Equal(t, "gpt-4", req.Model)
		require.Equal(t, []domain.ChatMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "human said"},
			{Role: "assistant", Content: "critic said"},
			{Role: "user", Content: "prompt"},
		}, req.Messages)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		_, _ = io.WriteString(w, ": comment\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	history := []domain.Message{
		{Sender: domain.HumanSender, Content: "human said"},
		{Sender: "p2", Content: "critic said"},
	}
	stream, err := c.StreamResponse(context.Background(), "gpt-4", "be brief", history, "prompt")
	require.NoError(t, err)

	frags, err := collect(t, stream)
	require.NoError(t, err)
	require.Equal(t, []string{"Hello", " world"}, frags)
}

func TestStreamResponse_EndsWithoutDoneSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"only\"}}]}\n\n")
	}))
	defer srv.Close()

	stream, err := newTestClient(t, srv).StreamResponse(context.Background(), "gpt-4", "", nil, "p")
	require.NoError(t, err)
	frags, err := collect(t, stream)
	require.NoError(t, err)
	require.Equal(t, []string{"only"}, frags)
}

func TestStreamResponse_InStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"error\":{\"message\":\"overloaded\",\"type\":\"server_error\"}}\n\n")
	}))
	defer srv.Close()

	stream, err := newTestClient(t, srv).StreamResponse(context.Background(), "gpt-4", "", nil, "p")
	require.NoError(t, err)
	frags, err := collect(t, stream)
	require.Error(t, err)
	require.Contains(t, err.Error(), "overloaded")
	require.Equal(t, []string{"par"}, frags)
}

func TestStreamResponse_MalformedChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: not-json\n\n")
	}))
	defer srv.Close()

	stream, err := newTestClient(t, srv).StreamResponse(context.Background(), "gpt-4", "", nil, "p")
	require.NoError(t, err)
	_, err = collect(t, stream)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode stream chunk")
}

func TestStreamResponse_Non200(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		_, err := newTestClient(t, srv).StreamResponse(context.Background(), "gpt-4", "", nil, "p")
		srv.Close()

		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, status, statusErr.HTTPStatusCode())
		require.Contains(t, err.Error(), "unexpected status")
	}
}

func TestStreamResponse_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeKey{key: "sk"})
	require.NoError(t, err)
	_, err = c.StreamResponse(context.Background(), "", "", nil, "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestStreamResponse_KeyError(t *testing.T) {
	c, err := NewClient(&fakeKey{err: errors.New("ssm unavailable")})
	require.NoError(t, err)
	_, err = c.StreamResponse(context.Background(), "gpt-4", "", nil, "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")
}

func TestStreamResponse_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeKey{key: "sk"}, WithBaseURL("http://127.0.0.1:1"), WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	require.NoError(t, err)
	_, err = c.StreamResponse(context.Background(), "gpt-4", "", nil, "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestStream_NextAfterCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
	}))
	defer srv.Close()

	stream, err := newTestClient(t, srv).StreamResponse(context.Background(), "gpt-4", "", nil, "p")
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = stream.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
