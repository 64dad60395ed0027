package bedrock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"discussion-agent/internal/domain"
)

const (
	defaultMaxTokens   int32   = 4096
	defaultTemperature float32 = 1.0
)

// converseAPI is the subset of the Bedrock runtime client used here.
type converseAPI interface {
	ConverseStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// eventStream is satisfied by *bedrockruntime.ConverseStreamEventStream.
type eventStream interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

// Client streams responses through the Bedrock Converse API.
type Client struct {
	open func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (eventStream, error)
}

func New(api converseAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("bedrock: api must not be nil")
	}
	return &Client{
		open: func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (eventStream, error) {
			out, err := api.ConverseStream(ctx, in)
			if err != nil {
				return nil, err
			}
			stream := out.GetStream()
			if stream == nil {
				return nil, errors.New("response carried no event stream")
			}
			return stream, nil
		},
	}, nil
}

func buildInput(modelID, systemPrompt string, history []domain.Message, prompt string) *bedrockruntime.ConverseStreamInput {
	chat := domain.AlternatingChat(history, prompt)
	messages := make([]types.Message, 0, len(chat))
	for _, m := range chat {
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		messages = append(messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}

	in := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(defaultMaxTokens),
			Temperature: aws.Float32(defaultTemperature),
		},
	}
	if systemPrompt != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: systemPrompt}}
	}
	return in
}

func (c *Client) StreamResponse(ctx context.Context, modelID, systemPrompt string, history []domain.Message, prompt string) (domain.FragmentStream, error) {
	if modelID == "" {
		return nil, errors.New("bedrock: model must not be empty")
	}
	stream, err := c.open(ctx, buildInput(modelID, systemPrompt, history, prompt))
	if err != nil {
		return nil, fmt.Errorf("bedrock: converse stream %s: %w", modelID, err)
	}
	return &converseStream{stream: stream}, nil
}

type converseStream struct {
	stream    eventStream
	closeOnce sync.Once
}

func (s *converseStream) Next(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-s.stream.Events():
			if !ok {
				if err := s.stream.Err(); err != nil {
					return "", fmt.Errorf("bedrock: read stream: %w", err)
				}
				return "", io.EOF
			}
			switch v := ev.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if text, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && text.Value != "" {
					return text.Value, nil
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				return "", io.EOF
			}
		}
	}
}

func (s *converseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.Close()
	})
	return err
}
