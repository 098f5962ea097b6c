package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared/constant"
)

// OpenAICompleter implements Completer with OpenAI strict structured outputs.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

// OpenAIOption configures the OpenAI completer.
type OpenAIOption func(*openAIOptions)

type openAIOptions struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// WithOpenAIBaseURL sets a custom base URL (e.g., for Azure OpenAI or proxies).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(o *openAIOptions) { o.baseURL = strings.TrimRight(url, "/") }
}

// WithOpenAIModel sets the chat model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(o *openAIOptions) { o.model = model }
}

// WithOpenAITimeout bounds each request.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(o *openAIOptions) { o.timeout = d }
}

// WithOpenAIHTTPClient sets a custom HTTP client.
func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(o *openAIOptions) { o.httpClient = client }
}

// NewOpenAICompleter creates an OpenAI structured-output transport.
// The SDK's own retries are disabled; retry policy belongs to callers.
func NewOpenAICompleter(apiKey string, opts ...OpenAIOption) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	o := openAIOptions{
		model:   "gpt-4o-mini",
		timeout: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(o.timeout),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}

	return &OpenAICompleter{
		client: openai.NewClient(reqOpts...),
		model:  o.model,
	}, nil
}

func (c *OpenAICompleter) Name() string { return ProviderOpenAI }

// CompleteJSON sends one chat completion with a strict json_schema response format.
func (c *OpenAICompleter) CompleteJSON(ctx context.Context, req *StructuredRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(req.Temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.SchemaName,
					Strict: openai.Bool(true),
					Schema: req.Schema,
				},
				Type: constant.ValueOf[constant.JSONSchema](),
			},
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", checkError(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}

	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return "", fmt.Errorf("%w: %s", ErrRefusal, msg.Refusal)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%w (finish reason %q)", ErrEmptyReply, resp.Choices[0].FinishReason)
	}
	return msg.Content, nil
}

// checkError maps SDK errors onto the package sentinels.
func checkError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimit, err)
	case apiErr.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", ErrNoAPIKey, err)
	case apiErr.StatusCode >= 500:
		return fmt.Errorf("%w: %v", ErrProviderDown, err)
	}
	return err
}

func (c *OpenAICompleter) textParams(req *TextRequest) openai.ChatCompletionNewParams {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(req.System)}
	if req.User != "" {
		messages = append(messages, openai.UserMessage(req.User))
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

// CompleteText sends one plain chat completion.
func (c *OpenAICompleter) CompleteText(ctx context.Context, req *TextRequest) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.textParams(req))
	if err != nil {
		return "", checkError(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return "", fmt.Errorf("%w: %s", ErrRefusal, msg.Refusal)
	}
	return msg.Content, nil
}

// StreamText streams a plain chat completion over server-sent events.
func (c *OpenAICompleter) StreamText(ctx context.Context, req *TextRequest, onDelta func(string) error) error {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.textParams(req))
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if d := chunk.Choices[0].Delta.Content; d != "" {
			if err := onDelta(d); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return checkError(err)
	}
	return nil
}
