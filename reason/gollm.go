package reason

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/teilomillet/gollm"
)

// GollmConfig configures the gollm-backed engine.
type GollmConfig struct {
	// Provider is the LLM provider name (e.g. openai, anthropic).
	Provider string
	// Model is the model identifier (provider default when empty).
	Model string
	// APIKey is the provider API key. Empty falls back to the
	// provider's environment variable.
	APIKey string
	// MaxTokens bounds the completion length (default 4096).
	MaxTokens int
	// Temperature is the sampling temperature (default 0.2).
	Temperature float64
}

// GollmEngine implements Engine over a gollm.LLM.
//
// The underlying client holds the model as shared state, so per-step
// model overrides are applied under a mutex and restored to the
// configured default before the step returns. Overrides never leak
// into other queries.
type GollmEngine struct {
	mu           sync.Mutex
	llm          gollm.LLM
	defaultModel string
}

// NewGollmEngine creates an engine for the configured provider.
func NewGollmEngine(cfg GollmConfig) (*GollmEngine, error) {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.2
	}

	opts := []gollm.ConfigOption{
		gollm.SetProvider(cfg.Provider),
		gollm.SetMaxTokens(cfg.MaxTokens),
		gollm.SetTemperature(cfg.Temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.Model != "" {
		opts = append(opts, gollm.SetModel(cfg.Model))
	}
	if cfg.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(cfg.APIKey))
	}

	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("reason: create llm for %s: %w", cfg.Provider, err)
	}
	return &GollmEngine{llm: llm, defaultModel: llm.GetModel()}, nil
}

// NewGollmEngineFromLLM wraps an existing gollm.LLM instance.
func NewGollmEngineFromLLM(llm gollm.LLM) *GollmEngine {
	return &GollmEngine{llm: llm, defaultModel: llm.GetModel()}
}

// Step flattens the transcript into one prompt, runs the model, and
// parses the JSON step out of the completion.
func (e *GollmEngine) Step(ctx context.Context, req Request) (*Step, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Model != "" && req.Model != e.defaultModel {
		e.llm.SetOption("model", req.Model)
		defer e.llm.SetOption("model", e.defaultModel)
	}

	prompt := e.buildPrompt(req)
	text, err := e.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("reason: generate: %w", err)
	}

	step, err := ParseStep(text)
	if err != nil {
		return nil, fmt.Errorf("reason: %w", err)
	}
	return step, nil
}

// buildPrompt flattens the transcript. The system turn becomes the
// prompt's system message; the remaining turns are concatenated with
// role markers, oldest first.
func (e *GollmEngine) buildPrompt(req Request) *gollm.Prompt {
	var system string
	var b strings.Builder

	for _, turn := range req.Messages {
		switch turn.Role {
		case RoleSystem:
			if system == "" {
				system = turn.Content
			}
		case RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n\n", turn.Content)
		default:
			fmt.Fprintf(&b, "User: %s\n\n", turn.Content)
		}
	}

	var opts []gollm.PromptOption
	if system != "" {
		opts = append(opts, gollm.WithSystemPrompt(strings.TrimSpace(system), gollm.CacheTypeEphemeral))
	}
	return gollm.NewPrompt(strings.TrimSpace(b.String()), opts...)
}
