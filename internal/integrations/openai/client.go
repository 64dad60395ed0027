package openai

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
	defaultBaseURL        = "https://api.openai.com/v1"
	responseHeaderTimeout = 60 * time.Second
	doneSentinel          = "[DONE]"
)

// chatRequest is the minimal request shape for a streamed Chat Completions call.
type chatRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

// chatChunk is the minimal shape of one streamed completion chunk.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// KeyResolver returns the API key used for every request.
type KeyResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client streams chat completions from an OpenAI-compatible endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	key        KeyResolver
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

// NewClient creates a Client that authenticates with the key returned by key.
func NewClient(key KeyResolver, opts ...Option) (*Client, error) {
	if key == nil {
		return nil, errors.New("openai: key resolver must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: defaultHTTPClient(),
		key:        key,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// defaultHTTPClient has no overall timeout because completions stream for as
// long as the model generates; only the wait for response headers is bounded.
func defaultHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = responseHeaderTimeout
	return &http.Client{Transport: transport}
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return defaultHTTPClient()
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

func buildMessages(systemPrompt string, history []domain.Message, prompt string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: "system", Content: systemPrompt})
	messages = append(messages, domain.ChatHistory(history)...)
	messages = append(messages, domain.ChatMessage{Role: "user", Content: prompt})
	return messages
}

// StreamResponse opens a streamed completion. The returned stream yields
// delta content in generation order.
func (c *Client) StreamResponse(ctx context.Context, modelID, systemPrompt string, history []domain.Message, prompt string) (domain.FragmentStream, error) {
	if modelID == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	apiKey, err := c.key.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai: resolve api key: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model:    modelID,
		Messages: buildMessages(systemPrompt, history, prompt),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer func() { _ = res.Body.Close() }()
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	return &chatStream{body: res.Body, reader: sse.NewReader(res.Body)}, nil
}

type chatStream struct {
	body   io.ReadCloser
	reader *sse.Reader

	closeOnce sync.Once
	done      bool
}

func (s *chatStream) Next(ctx context.Context) (string, error) {
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
			return "", fmt.Errorf("openai: read stream: %w", err)
		}

		data := strings.TrimSpace(frame.Data)
		if data == doneSentinel {
			s.done = true
			return "", io.EOF
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("openai: decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("openai: stream error (%s): %s", chunk.Error.Type, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

func (s *chatStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}
