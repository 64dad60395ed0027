// Package scripted provides a local generator that needs no network access.
// It is used for development and demos when no provider keys are configured.
package scripted

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"discussion-agent/internal/domain"
)

const defaultFragmentDelay = 40 * time.Millisecond

type Generator struct {
	delay time.Duration
}

type Option func(*Generator)

// WithFragmentDelay sets the pause between emitted fragments.
func WithFragmentDelay(d time.Duration) Option {
	return func(g *Generator) {
		if d >= 0 {
			g.delay = d
		}
	}
}

func New(opts ...Option) *Generator {
	g := &Generator{delay: defaultFragmentDelay}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reply is the canned text for a turn. It depends only on the inputs.
func Reply(modelID string, history []domain.Message, prompt string) string {
	excerpt := strings.Join(strings.Fields(prompt), " ")
	if len(excerpt) > 80 {
		excerpt = excerpt[:80] + "..."
	}
	return fmt.Sprintf("[%s, turn %d] Responding to %q: this point deserves a closer look.", modelID, len(history)+1, excerpt)
}

func (g *Generator) StreamResponse(_ context.Context, modelID, _ string, history []domain.Message, prompt string) (domain.FragmentStream, error) {
	if modelID == "" {
		return nil, errors.New("scripted: model must not be empty")
	}
	return &stream{fragments: fragments(Reply(modelID, history, prompt)), delay: g.delay}, nil
}

// fragments splits text into words, keeping the separating space on the
// following word so that the fragments concatenate back to text.
func fragments(text string) []string {
	words := strings.Split(text, " ")
	out := make([]string, 0, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		out = append(out, w)
	}
	return out
}

type stream struct {
	fragments []string
	next      int
	delay     time.Duration
}

func (s *stream) Next(ctx context.Context) (string, error) {
	if s.next >= len(s.fragments) {
		return "", io.EOF
	}
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return "", err
	}
	f := s.fragments[s.next]
	s.next++
	return f, nil
}

func (s *stream) Close() error {
	s.next = len(s.fragments)
	return nil
}
