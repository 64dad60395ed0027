package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"discussion-agent/internal/domain"
	"discussion-agent/internal/integrations/sse"
)

const (
	defaultBaseURL        = "https://api.anthropic.com"
	apiVersion            = "2023-06-01"
	defaultMaxTokens      = 4096
	responseHeaderTimeout = 60 * time.Second
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
}

// streamEvent covers the fields of the Messages streaming events this client
// reads. Other event types are ignored.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type KeyResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("anthropic: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client streams responses from the Anthropic Messages API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	key        KeyResolver
	maxTokens  int
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func NewClient(key KeyResolver, opts ...Option) (*Client, error) {
	if key == nil {
		return nil, errors.New("anthropic: key resolver must not be nil")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = responseHeaderTimeout
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Transport: transport},
		key:        key,
		maxTokens:  defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c, nil
}

func messagesURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/messages"
	}
	return base + "/v1/messages"
}

func buildMessages(history []domain.Message, prompt string) []message {
	chat := domain.AlternatingChat(history, prompt)
	out := make([]message, 0, len(chat))
	for _, m := range chat {
		out = append(out, message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (c *Client) StreamResponse(ctx context.Context, modelID, systemPrompt string, history []domain.Message, prompt string) (domain.FragmentStream, error) {
	if modelID == "" {
		return nil, errors.New("anthropic: model must not be empty")
	}
	apiKey, err := c.key.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("anthropic: resolve api key: %w", err)
	}

	body, err := json.Marshal(messagesRequest{
		Model:     modelID,
		System:    systemPrompt,
		Messages:  buildMessages(history, prompt),
		MaxTokens: c.maxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	url := messagesURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer func() { _ = res.Body.Close() }()
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	return &messageStream{body: res.Body, reader: sse.NewReader(res.Body)}, nil
}

type messageStream struct {
	body   io.ReadCloser
	reader *sse.Reader

	closeOnce sync.Once
	done      bool
}

func (s *messageStream) Next(ctx context.Context) (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		frame, err := s.reader.Next()
		if errors.Is(err, io.EOF) {
			s.done = true
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("anthropic: read stream: %w", err)
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(frame.Data), &ev); err != nil {
			return "", fmt.Errorf("anthropic: decode %q event: %w", frame.Event, err)
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				return ev.Delta.Text, nil
			}
		case "message_stop":
			s.done = true
			return "", io.EOF
		case "error":
			return "", fmt.Errorf("anthropic: stream error (%s): %s", ev.Error.Type, ev.Error.Message)
		}
	}
}

func (s *messageStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}
