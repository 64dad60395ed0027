package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Getter is implemented by paramstore.Client and by StaticGetter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// tokenPayload is the JSON shape used when a key is stored as a structured
// parameter. Plain values are used as the key directly.
type tokenPayload struct {
	Token string `json:"token"`
}

// APIKey resolves a provider API key on first use and caches it for the
// lifetime of the process. Failed lookups are retried on the next call.
type APIKey struct {
	getter Getter
	name   string

	mu  sync.Mutex
	key string
}

func NewAPIKey(getter Getter, name string) (*APIKey, error) {
	if getter == nil {
		return nil, errors.New("credentials: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("credentials: parameter name must not be empty")
	}
	return &APIKey{getter: getter, name: name}, nil
}

func (k *APIKey) Resolve(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != "" {
		return k.key, nil
	}
	key, err := fetchAPIKey(ctx, k.getter, k.name)
	if err != nil {
		return "", err
	}
	k.key = key
	return key, nil
}

func fetchAPIKey(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("credentials: fetch %q: %w", name, err)
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		if raw == "" {
			return "", fmt.Errorf("credentials: API token %q is empty", name)
		}
		return raw, nil
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("credentials: unmarshal %q as JSON: %w", name, err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("credentials: API token %q is empty", name)
	}
	return tp.Token, nil
}
