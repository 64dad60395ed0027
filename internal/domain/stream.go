package domain

import "context"

// FragmentStream is a single-pass sequence of text fragments produced by a
// generation backend. Next returns io.EOF once the completion has ended
// normally; any other error is terminal for the turn. Close releases the
// underlying connection and is safe to call more than once.
type FragmentStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}
