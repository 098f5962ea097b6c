package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"github.com/seenimoa/portiq/internal/config"
	"github.com/seenimoa/portiq/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

// stubCompleter returns canned replies and records every request.
type stubCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []*StructuredRequest
}

func (s *stubCompleter) Name() string { return "stub" }

func (s *stubCompleter) CompleteJSON(_ context.Context, req *StructuredRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.reply, s.err
}

// newExhaustedLimiter returns a limiter whose only token is already spent.
func newExhaustedLimiter() *rate.Limiter {
	l := rate.NewLimiter(rate.Every(time.Hour), 1)
	l.Allow()
	return l
}

const validRecommendation = `{
	"action": "BUY",
	"confidence": 0.8,
	"rationale": "strong fundamentals",
	"key_risks": ["valuation"],
	"key_opportunities": ["cloud growth"],
	"time_horizon": "Long-term"
}`

// ════════════════════════════════════════════════════════════════════
// schema.go
// ════════════════════════════════════════════════════════════════════

func TestSchemaForIsStrict(t *testing.T) {
	s, err := SchemaFor[models.RiskAssessment]()
	if err != nil {
		t.Fatalf("SchemaFor() error: %v", err)
	}
	if s.Name != "RiskAssessment" {
		t.Errorf("Name = %q", s.Name)
	}
	if _, ok := s.Definition["$schema"]; ok {
		t.Error("$schema should be stripped")
	}
	if s.Definition["additionalProperties"] != false {
		t.Errorf("additionalProperties = %v, want false", s.Definition["additionalProperties"])
	}

	props := s.Definition["properties"].(map[string]any)
	required := s.Definition["required"].([]any)
	if len(required) != len(props) || len(props) != 6 {
		t.Fatalf("required %d / properties %d, want 6 / 6", len(required), len(props))
	}

	profile := props["risk_profile"].(map[string]any)
	enum, ok := profile["enum"].([]any)
	if !ok || len(enum) != 3 {
		t.Errorf("risk_profile enum = %v", profile["enum"])
	}
}

func TestSchemaForCaches(t *testing.T) {
	a, err := SchemaFor[models.FinalRecommendation]()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := SchemaFor[models.FinalRecommendation]()
	if a != b {
		t.Error("expected cached schema pointer")
	}
}

func TestSchemaForNullableTicker(t *testing.T) {
	s, err := SchemaFor[models.TickerExtraction]()
	if err != nil {
		t.Fatalf("SchemaFor() error: %v", err)
	}
	ticker := s.Definition["properties"].(map[string]any)["ticker"].(map[string]any)
	if _, ok := ticker["oneOf"]; ok {
		t.Error("oneOf should be rewritten to anyOf")
	}
	if err := s.Validate(`{"ticker":null,"reasoning":"none"}`); err != nil {
		t.Errorf("null ticker should validate: %v", err)
	}
	if err := s.Validate(`{"ticker":"AAPL","reasoning":"apple"}`); err != nil {
		t.Errorf("string ticker should validate: %v", err)
	}
}

func TestSchemaRejectsNonStruct(t *testing.T) {
	if _, err := SchemaFor[string](); err == nil {
		t.Fatal("expected error for non-struct target")
	}
}

func TestSchemaValidate(t *testing.T) {
	s, _ := SchemaFor[models.FinalRecommendation]()

	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"valid", validRecommendation, false},
		{"missing field", `{"action":"BUY","confidence":0.5}`, true},
		{"bad enum", strings.Replace(validRecommendation, `"BUY"`, `"STRONG_BUY"`, 1), true},
		{"extra field", strings.Replace(validRecommendation, `"action"`, `"extra": 1, "action"`, 1), true},
		{"not json", `BUY`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.doc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ════════════════════════════════════════════════════════════════════
// gateway.go
// ════════════════════════════════════════════════════════════════════

func TestInferSuccess(t *testing.T) {
	stub := &stubCompleter{reply: validRecommendation}
	gw := NewGateway(stub)

	rec, err := Infer[models.FinalRecommendation](context.Background(), gw, "sys", "user", InferOptions{Temperature: 0, MaxTokens: 200})
	if err != nil {
		t.Fatalf("Infer() error: %v", err)
	}
	if rec.Action != models.ActionBuy || rec.Confidence != 0.8 || rec.TimeHorizon != "Long-term" {
		t.Errorf("unexpected result %+v", rec)
	}

	if len(stub.reqs) != 1 {
		t.Fatalf("completer called %d times", len(stub.reqs))
	}
	req := stub.reqs[0]
	if req.System != "sys" || req.User != "user" || req.SchemaName != "FinalRecommendation" || req.MaxTokens != 200 {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Schema == nil {
		t.Error("schema not forwarded")
	}
}

func TestInferFailures(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		err    error
		wantOp string
	}{
		{"transport error", "", ErrProviderDown, "complete"},
		{"missing field", `{"action":"HOLD"}`, nil, "validate"},
		{"enum out of set", strings.Replace(validRecommendation, `"Long-term"`, `"Forever"`, 1), nil, "validate"},
		{"score out of range", strings.Replace(validRecommendation, `0.8`, `1.7`, 1), nil, "validate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewGateway(&stubCompleter{reply: tt.reply, err: tt.err})
			rec, err := Infer[models.FinalRecommendation](context.Background(), gw, "s", "u", InferOptions{})
			if rec != nil {
				t.Fatalf("expected nil result, got %+v", rec)
			}
			if !errors.Is(err, ErrInference) {
				t.Fatalf("error %v should match ErrInference", err)
			}
			var ierr *InferenceError
			if !errors.As(err, &ierr) {
				t.Fatalf("error %T is not *InferenceError", err)
			}
			if ierr.Op != tt.wantOp || ierr.Schema != "FinalRecommendation" {
				t.Errorf("InferenceError = %+v, want op %q", ierr, tt.wantOp)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("transport error should be wrapped: %v", err)
			}
		})
	}
}

func TestInferRespectsCancelledLimiter(t *testing.T) {
	stub := &stubCompleter{reply: validRecommendation}
	limiter := newExhaustedLimiter()
	gw := NewGateway(stub, WithLimiter(limiter))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Infer[models.FinalRecommendation](ctx, gw, "s", "u", InferOptions{})
	if !errors.Is(err, ErrInference) {
		t.Fatalf("expected inference error, got %v", err)
	}
	if len(stub.reqs) != 0 {
		t.Error("completer must not be called when the limiter wait fails")
	}
}

// ════════════════════════════════════════════════════════════════════
// openai.go
// ════════════════════════════════════════════════════════════════════

func newMockOpenAIServer(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

func TestOpenAICompleterNew(t *testing.T) {
	if _, err := NewOpenAICompleter(""); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
	c, err := NewOpenAICompleter("sk-test")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != ProviderOpenAI {
		t.Errorf("Name() = %q", c.Name())
	}
}

func TestOpenAICompleteJSON(t *testing.T) {
	var captured map[string]any
	server := newMockOpenAIServer(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Error("missing auth header")
		}
		json.NewDecoder(r.Body).Decode(&captured)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-123",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": validRecommendation,
				},
			}},
		})
	})
	defer server.Close()

	c, _ := NewOpenAICompleter("sk-test", WithOpenAIBaseURL(server.URL), WithOpenAIModel("gpt-4o-mini"))
	s, _ := SchemaFor[models.FinalRecommendation]()

	out, err := c.CompleteJSON(context.Background(), &StructuredRequest{
		System: "sys", User: "user", SchemaName: s.Name, Schema: s.Definition, MaxTokens: 50,
	})
	if err != nil {
		t.Fatalf("CompleteJSON() error: %v", err)
	}
	if out != validRecommendation {
		t.Errorf("unexpected content: %s", out)
	}

	if captured["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", captured["model"])
	}
	if captured["temperature"] != float64(0) {
		t.Errorf("temperature = %v, want 0", captured["temperature"])
	}
	if captured["max_completion_tokens"] != float64(50) {
		t.Errorf("max_completion_tokens = %v", captured["max_completion_tokens"])
	}
	rf, _ := captured["response_format"].(map[string]any)
	if rf["type"] != "json_schema" {
		t.Fatalf("response_format = %v", captured["response_format"])
	}
	js, _ := rf["json_schema"].(map[string]any)
	if js["name"] != "FinalRecommendation" || js["strict"] != true {
		t.Errorf("json_schema = %v", js)
	}
	msgs, _ := captured["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
}

func TestOpenAICompleteJSONRefusal(t *testing.T) {
	server := newMockOpenAIServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"","refusal":"I can't help with that"}}]}`))
	})
	defer server.Close()

	c, _ := NewOpenAICompleter("sk-test", WithOpenAIBaseURL(server.URL))
	_, err := c.CompleteJSON(context.Background(), &StructuredRequest{SchemaName: "X", Schema: map[string]any{"type": "object"}})
	if !errors.Is(err, ErrRefusal) {
		t.Fatalf("expected ErrRefusal, got %v", err)
	}
}

func TestOpenAIErrorHandling(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		want       error
	}{
		{"unauthorized", 401, `{"error":{"message":"Invalid key","type":"auth","code":"invalid_api_key"}}`, ErrNoAPIKey},
		{"rate_limit", 429, `{"error":{"message":"Rate limit exceeded","type":"rate_limit"}}`, ErrRateLimit},
		{"server", 503, `{"error":{"message":"overloaded","type":"server_error"}}`, ErrProviderDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			server := newMockOpenAIServer(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.body))
			})
			defer server.Close()

			c, _ := NewOpenAICompleter("sk-test", WithOpenAIBaseURL(server.URL))
			_, err := c.CompleteJSON(context.Background(), &StructuredRequest{SchemaName: "X", Schema: map[string]any{"type": "object"}})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got: %v", tt.want, err)
			}
			if calls != 1 {
				t.Errorf("transport retried: %d calls", calls)
			}
		})
	}
}

func TestOpenAICompleteText(t *testing.T) {
	var captured map[string]any
	server := newMockOpenAIServer(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Margins expanded."}}]}`))
	})
	defer server.Close()

	c, _ := NewOpenAICompleter("sk-test", WithOpenAIBaseURL(server.URL))
	out, err := c.CompleteText(context.Background(), &TextRequest{System: "context and question", Temperature: 0.2})
	if err != nil {
		t.Fatalf("CompleteText() error: %v", err)
	}
	if out != "Margins expanded." {
		t.Errorf("out = %q", out)
	}
	if _, ok := captured["response_format"]; ok {
		t.Error("free text must not request a response format")
	}
	if msgs, _ := captured["messages"].([]any); len(msgs) != 1 {
		t.Errorf("expected only the system message, got %d", len(msgs))
	}
}

func TestOpenAIStreamText(t *testing.T) {
	var captured map[string]any
	server := newMockOpenAIServer(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Cash ", "flow ", "rose."} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\","+
				"\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	defer server.Close()

	c, _ := NewOpenAICompleter("sk-test", WithOpenAIBaseURL(server.URL))
	var sb strings.Builder
	err := c.StreamText(context.Background(), &TextRequest{System: "s", User: "u"}, func(d string) error {
		sb.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamText() error: %v", err)
	}
	if sb.String() != "Cash flow rose." {
		t.Errorf("streamed = %q", sb.String())
	}
	if captured["stream"] != true {
		t.Errorf("stream flag = %v", captured["stream"])
	}
}

func TestOpenAIStreamTextError(t *testing.T) {
	server := newMockOpenAIServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	})
	defer server.Close()

	c, _ := NewOpenAICompleter("sk-test", WithOpenAIBaseURL(server.URL))
	err := c.StreamText(context.Background(), &TextRequest{System: "s"}, func(string) error { return nil })
	if !errors.Is(err, ErrRateLimit) {
		t.Fatalf("expected ErrRateLimit, got %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// eino.go
// ════════════════════════════════════════════════════════════════════

// fakeChatModel is a minimal eino BaseChatModel. Stream replays chunks.
type fakeChatModel struct {
	content  string
	chunks   []string
	messages []*schema.Message
	opts     []model.Option
}

func (f *fakeChatModel) Generate(_ context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.messages = in
	f.opts = opts
	return schema.AssistantMessage(f.content, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if f.chunks == nil {
		return nil, errors.New("not implemented")
	}
	f.messages = in
	f.opts = opts
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func TestEinoCompleteJSONStripsFences(t *testing.T) {
	fake := &fakeChatModel{content: "```json\n" + validRecommendation + "\n```"}
	c := NewEinoCompleterWithModel(fake)
	if c.Name() != ProviderEino {
		t.Errorf("Name() = %q", c.Name())
	}

	s, _ := SchemaFor[models.FinalRecommendation]()
	out, err := c.CompleteJSON(context.Background(), &StructuredRequest{
		System: "You aggregate.", User: "payload", SchemaName: s.Name, Schema: s.Definition, Temperature: 0,
	})
	if err != nil {
		t.Fatalf("CompleteJSON() error: %v", err)
	}
	if err := s.Validate(out); err != nil {
		t.Errorf("stripped output should validate: %v", err)
	}

	if len(fake.messages) != 2 || fake.messages[0].Role != schema.System {
		t.Fatalf("unexpected messages: %+v", fake.messages)
	}
	if !strings.Contains(fake.messages[0].Content, `"time_horizon"`) {
		t.Error("system instruction should carry the schema")
	}
	if fake.messages[1].Content != "payload" {
		t.Errorf("user content = %q", fake.messages[1].Content)
	}
	common := model.GetCommonOptions(nil, fake.opts...)
	if common.Temperature == nil || *common.Temperature != 0 {
		t.Errorf("temperature option not forwarded: %+v", common.Temperature)
	}
}

func TestEinoCompleteJSONEmpty(t *testing.T) {
	c := NewEinoCompleterWithModel(&fakeChatModel{content: "```json\n```"})
	if _, err := c.CompleteJSON(context.Background(), &StructuredRequest{Schema: map[string]any{}}); !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}

func TestEinoCompleteText(t *testing.T) {
	fake := &fakeChatModel{content: "Apple looks fine."}
	c := NewEinoCompleterWithModel(fake)

	out, err := c.CompleteText(context.Background(), &TextRequest{System: "answer from context", MaxTokens: 64})
	if err != nil {
		t.Fatalf("CompleteText() error: %v", err)
	}
	if out != "Apple looks fine." {
		t.Errorf("out = %q", out)
	}
	if len(fake.messages) != 1 || fake.messages[0].Role != schema.System {
		t.Errorf("an empty user turn must be omitted: %+v", fake.messages)
	}
	common := model.GetCommonOptions(nil, fake.opts...)
	if common.MaxTokens == nil || *common.MaxTokens != 64 {
		t.Errorf("max tokens not forwarded: %+v", common.MaxTokens)
	}
}

func TestEinoStreamTextThroughGateway(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"Revenue ", "", "grew ", "12%."}}
	g := NewGateway(NewEinoCompleterWithModel(fake))

	var got []string
	err := g.Stream(context.Background(), "sys", "q", InferOptions{}, func(d string) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if strings.Join(got, "|") != "Revenue |grew |12%." {
		t.Errorf("deltas = %q", got)
	}

	stop := errors.New("client went away")
	calls := 0
	err = g.Stream(context.Background(), "sys", "q", InferOptions{}, func(string) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("callback error should end the stream: err=%v calls=%d", err, calls)
	}
}

func TestGatewayTextUnsupported(t *testing.T) {
	g := NewGateway(&stubCompleter{})
	if _, err := g.Complete(context.Background(), "s", "u", InferOptions{}); !errors.Is(err, ErrTextUnsupported) {
		t.Errorf("Complete: expected ErrTextUnsupported, got %v", err)
	}
	err := g.Stream(context.Background(), "s", "u", InferOptions{}, func(string) error { return nil })
	if !errors.Is(err, ErrTextUnsupported) {
		t.Errorf("Stream: expected ErrTextUnsupported, got %v", err)
	}
}

func TestGatewayCompleteEmptyReply(t *testing.T) {
	g := NewGateway(NewEinoCompleterWithModel(&fakeChatModel{content: "  "}))
	if _, err := g.Complete(context.Background(), "s", "", InferOptions{}); !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// router.go
// ════════════════════════════════════════════════════════════════════

func TestNewCompleterFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.APIKey = "sk-test"

	c, err := NewCompleterFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if c.Name() != ProviderOpenAI {
		t.Errorf("Name() = %q", c.Name())
	}

	cfg.LLM.Provider = ProviderEino
	cfg.LLM.BaseURL = "http://localhost:11434/v1"
	c, err = NewCompleterFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("eino: %v", err)
	}
	if c.Name() != ProviderEino {
		t.Errorf("Name() = %q", c.Name())
	}

	cfg.LLM.Provider = "anthropic"
	if _, err := NewCompleterFromConfig(context.Background(), cfg); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}

	cfg.LLM.Provider = ProviderOpenAI
	cfg.LLM.APIKey = ""
	if _, err := NewGatewayFromConfig(context.Background(), cfg, nil); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}
