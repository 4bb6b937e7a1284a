package reason

import (
	"context"
	"testing"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
	"github.com/teilomillet/gollm/utils"
)

// clientStub satisfies gollm.LLM so the engine can run without a
// provider. It records option writes and answers every generate call
// with a canned final step.
type clientStub struct {
	model   string
	options map[string]interface{}
	prompts []*llm.Prompt
}

func newClientStub(model string) *clientStub {
	return &clientStub{model: model, options: map[string]interface{}{}}
}

func (c *clientStub) Generate(ctx context.Context, prompt *llm.Prompt, opts ...llm.GenerateOption) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return `{"thoughts": "done", "code": "", "final_answer": true}`, nil
}

func (c *clientStub) GenerateWithSchema(ctx context.Context, prompt *llm.Prompt, schema interface{}, opts ...llm.GenerateOption) (string, error) {
	return c.Generate(ctx, prompt)
}

func (c *clientStub) Stream(ctx context.Context, prompt *llm.Prompt, opts ...llm.StreamOption) (llm.TokenStream, error) {
	return nil, nil
}

func (c *clientStub) SupportsStreaming() bool { return false }

func (c *clientStub) SetOption(key string, value interface{}) {
	c.options[key] = value
	if key == "model" {
		if s, ok := value.(string); ok {
			c.model = s
		}
	}
}

func (c *clientStub) SetLogLevel(level utils.LogLevel)    {}
func (c *clientStub) SetEndpoint(endpoint string)         {}
func (c *clientStub) NewPrompt(input string) *llm.Prompt  { return llm.NewPrompt(input) }
func (c *clientStub) GetLogger() utils.Logger             { return utils.NewLogger(utils.LogLevelOff) }
func (c *clientStub) SupportsJSONSchema() bool            { return false }
func (c *clientStub) GetPromptJSONSchema(opts ...gollm.SchemaOption) ([]byte, error) {
	return nil, nil
}
func (c *clientStub) GetProvider() string                          { return "stub" }
func (c *clientStub) GetModel() string                             { return c.model }
func (c *clientStub) UpdateLogLevel(level gollm.LogLevel)          {}
func (c *clientStub) Debug(msg string, keysAndValues ...interface{}) {}
func (c *clientStub) GetLogLevel() gollm.LogLevel                  { return gollm.LogLevelOff }
func (c *clientStub) SetOllamaEndpoint(endpoint string) error      { return nil }
func (c *clientStub) SetSystemPrompt(prompt string, cacheType gollm.CacheType) {}

func TestGollmEngineModelOverrideRestored(t *testing.T) {
	client := newClientStub("gpt-default")
	engine := NewGollmEngineFromLLM(client)

	req := Request{
		Model:    "gpt-alpha",
		Messages: []Turn{{Role: RoleUser, Content: "first"}},
	}
	if _, err := engine.Step(context.Background(), req); err != nil {
		t.Fatalf("step with override: %v", err)
	}
	if got := client.GetModel(); got != "gpt-default" {
		t.Fatalf("model after overridden step = %q, want restored default", got)
	}

	req = Request{Messages: []Turn{{Role: RoleUser, Content: "second"}}}
	if _, err := engine.Step(context.Background(), req); err != nil {
		t.Fatalf("step without override: %v", err)
	}
	if got := client.GetModel(); got != "gpt-default" {
		t.Fatalf("model after plain step = %q, want default", got)
	}
}

func TestGollmEngineSkipsRedundantOverride(t *testing.T) {
	client := newClientStub("gpt-default")
	engine := NewGollmEngineFromLLM(client)

	req := Request{
		Model:    "gpt-default",
		Messages: []Turn{{Role: RoleUser, Content: "hello"}},
	}
	if _, err := engine.Step(context.Background(), req); err != nil {
		t.Fatalf("step: %v", err)
	}
	if _, wrote := client.options["model"]; wrote {
		t.Fatal("option write for a model that already matches the default")
	}
}
