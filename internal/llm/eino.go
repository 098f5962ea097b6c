package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoCompleter implements Completer on any OpenAI-compatible endpoint
// through an eino chat model. The schema travels in the system instruction;
// the gateway validates whatever comes back.
type EinoCompleter struct {
	model model.BaseChatModel
}

// EinoConfig configures the eino transport.
type EinoConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewEinoCompleter builds the transport on eino's OpenAI chat model.
func NewEinoCompleter(ctx context.Context, cfg EinoConfig) (*EinoCompleter, error) {
	cm, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("llm/eino: init chat model: %w", err)
	}
	return NewEinoCompleterWithModel(cm), nil
}

// NewEinoCompleterWithModel wraps an existing eino chat model.
func NewEinoCompleterWithModel(cm model.BaseChatModel) *EinoCompleter {
	return &EinoCompleter{model: cm}
}

func (c *EinoCompleter) Name() string { return ProviderEino }

// CompleteJSON asks for a JSON document matching req.Schema.
func (c *EinoCompleter) CompleteJSON(ctx context.Context, req *StructuredRequest) (string, error) {
	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return "", fmt.Errorf("llm/eino: marshal schema: %w", err)
	}

	system := req.System +
		"\n\nRespond with one JSON object only, no prose, conforming to this JSON schema (" +
		req.SchemaName + "):\n" + string(schemaJSON)

	opts := []model.Option{model.WithTemperature(float32(req.Temperature))}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	resp, err := c.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(req.User),
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("llm/eino: generate: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyReply
	}

	content := stripJSONFence(resp.Content)
	if content == "" {
		return "", ErrEmptyReply
	}
	return content, nil
}

func einoTextInput(req *TextRequest) ([]*schema.Message, []model.Option) {
	msgs := []*schema.Message{schema.SystemMessage(req.System)}
	if req.User != "" {
		msgs = append(msgs, schema.UserMessage(req.User))
	}
	opts := []model.Option{model.WithTemperature(float32(req.Temperature))}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	return msgs, opts
}

// CompleteText generates a plain reply.
func (c *EinoCompleter) CompleteText(ctx context.Context, req *TextRequest) (string, error) {
	msgs, opts := einoTextInput(req)
	resp, err := c.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("llm/eino: generate: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyReply
	}
	return resp.Content, nil
}

// StreamText reads the model's stream until EOF.
func (c *EinoCompleter) StreamText(ctx context.Context, req *TextRequest, onDelta func(string) error) error {
	msgs, opts := einoTextInput(req)
	sr, err := c.model.Stream(ctx, msgs, opts...)
	if err != nil {
		return fmt.Errorf("llm/eino: stream: %w", err)
	}
	defer sr.Close()

	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("llm/eino: stream: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		if err := onDelta(msg.Content); err != nil {
			return err
		}
	}
}

// stripJSONFence removes a surrounding ```json ... ``` block.
func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
