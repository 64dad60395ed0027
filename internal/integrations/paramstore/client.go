package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is satisfied by *ssm.Client.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Client reads provider secrets from SSM Parameter Store. Relative names are
// resolved under the configured prefix.
type Client struct {
	api    ssmAPI
	prefix string
}

type Option func(*Client)

// WithPrefix sets the hierarchy that relative parameter names live under,
// for example "/discussion-agent/prod".
func WithPrefix(prefix string) Option {
	return func(c *Client) {
		c.prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

func New(api ssmAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	c := &Client{api: api}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolve returns name unchanged when it is absolute or no prefix is set.
func (c *Client) resolve(name string) string {
	if c.prefix == "" || strings.HasPrefix(name, "/") {
		return name
	}
	return c.prefix + "/" + name
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	full := c.resolve(name)

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(full),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", full, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", full)
	}
	return aws.ToString(out.Parameter.Value), nil
}
