// Package llm wraps the text generation providers and holds the prompts and
// response parsers for the archival AI tasks.
package llm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Completion is one generated answer with its token accounting.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// TotalTokens is the sum of prompt and completion tokens.
func (c Completion) TotalTokens() int {
	return c.InputTokens + c.OutputTokens
}

type backend interface {
	complete(ctx context.Context, system, user string) (Completion, error)
}

// Model generates text through the configured provider.
type Model struct {
	backend   backend
	provider  config.LLMProvider
	modelName string
	metrics   *metrics.Collector
}

// NewModel creates an LLM model based on configuration.
func NewModel(ctx context.Context, cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	case config.ProviderGemini:
		g, err := newGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
		if err != nil {
			return nil, err
		}
		return &Model{backend: g, provider: cfg.LLMProvider, modelName: cfg.LLMModel}, nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		backend:   &langchainBackend{llm: model, modelName: cfg.LLMModel},
		provider:  cfg.LLMProvider,
		modelName: cfg.LLMModel,
	}, nil
}

// WithMetrics records generation timings and token usage into c.
func (m *Model) WithMetrics(c *metrics.Collector) *Model {
	m.metrics = c
	return m
}

// GenerateWithSystem generates text with a system prompt. Provider errors
// that retrying cannot fix are wrapped with ErrFatalAPI.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	start := time.Now()
	out, err := m.backend.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return Completion{}, fmt.Errorf("generate with system: %w", wrapFatalError(err))
	}
	if m.metrics != nil {
		m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, time.Since(start),
			int64(out.InputTokens), int64(out.OutputTokens))
	}
	if out.Model == "" {
		out.Model = m.modelName
	}
	return out, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// Provider returns the configured provider.
func (m *Model) Provider() config.LLMProvider {
	return m.provider
}

// Ping sends a minimal prompt to check the provider is reachable.
func (m *Model) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := m.backend.complete(ctx, "Reply with the single word OK.", "ping")
	return wrapFatalError(err)
}

type langchainBackend struct {
	llm       llms.Model
	modelName string
}

func (b *langchainBackend) complete(ctx context.Context, system, user string) (Completion, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	response, err := b.llm.GenerateContent(ctx, messages)
	if err != nil {
		return Completion{}, err
	}
	if len(response.Choices) == 0 {
		return Completion{}, fmt.Errorf("no response choices")
	}

	choice := response.Choices[0]
	return Completion{
		Text:         choice.Content,
		Model:        b.modelName,
		InputTokens:  tokenCount(choice.GenerationInfo, "PromptTokens", "InputTokens", "input_tokens", "prompt_eval_count"),
		OutputTokens: tokenCount(choice.GenerationInfo, "CompletionTokens", "OutputTokens", "output_tokens", "eval_count"),
	}, nil
}

// tokenCount reads the first present key. Providers report usage under
// different names and numeric types.
func tokenCount(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}
