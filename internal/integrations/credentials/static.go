package credentials

import (
	"context"
	"fmt"
	"strings"
)

// StaticGetter serves parameters from values loaded at startup, typically
// API keys taken from the environment by cmd.
type StaticGetter struct {
	values map[string]string
}

func NewStaticGetter(values map[string]string) *StaticGetter {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &StaticGetter{values: copied}
}

func (g *StaticGetter) GetParameter(_ context.Context, name string) (string, error) {
	v := g.values[name]
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("credentials: %s is not set", name)
	}
	return v, nil
}
