// Package ai generates engagement drafts and keyword lists with a text-generation model.
package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/steveyegge/pubhub/internal/logger"
)

// Model constants
const (
	ModelSonnet = "claude-sonnet-4-5-20250929"
	ModelHaiku  = "claude-haiku-4-5-20251001"
)

// Defaults applied to requests that leave MaxTokens or Temperature unset
const (
	DefaultMaxTokens   = 800
	DefaultTemperature = 0.7
)

// Role tags a message in a generation request
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn
type Message struct {
	Role    Role
	Content string
}

// GenerateRequest is an ordered list of messages plus an optional system instruction
type GenerateRequest struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Validate checks the request before it is sent
func (r GenerateRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	for i, m := range r.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("message %d: content is empty", i)
		}
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative (got %d)", r.MaxTokens)
	}
	if r.Temperature < 0 || r.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1 (got %v)", r.Temperature)
	}
	return nil
}

// Generator produces text for a request or returns an error on a non-success response
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ErrEmptyResponse is returned when the model produced no text
var ErrEmptyResponse = errors.New("empty response from model")

// GetDefaultModel returns the model to use, checking PUBHUB_MODEL first
func GetDefaultModel() string {
	if model := os.Getenv("PUBHUB_MODEL"); model != "" {
		return model
	}
	return ModelSonnet
}

// Config holds generator configuration
type Config struct {
	APIKey  string      // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model   string      // Model to use (default: GetDefaultModel())
	BaseURL string      // Optional API base URL override
	Retry   RetryConfig // Retry configuration (uses defaults if zero)
	Logger  *zap.SugaredLogger
}

// AnthropicGenerator calls the Anthropic Messages API
type AnthropicGenerator struct {
	client *anthropic.Client
	model  string
	retry  *retrier
	log    *zap.SugaredLogger
}

var _ Generator = (*AnthropicGenerator)(nil)

// NewAnthropicGenerator creates a generator. Retries are handled here, so the
// SDK's own retry loop is disabled.
func NewAnthropicGenerator(cfg *Config) (*AnthropicGenerator, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}

	retry := cfg.Retry
	if retry == (RetryConfig{}) {
		retry = DefaultRetryConfig()
	}
	if err := retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get("ai")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicGenerator{
		client: &client,
		model:  model,
		retry:  newRetrier(retry, log),
		log:    log,
	}, nil
}

// Generate sends req to the Messages API and returns the concatenated text blocks
func (g *AnthropicGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid generation request: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		Messages:    make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	var response *anthropic.Message
	err := g.retry.do(ctx, "generate", func(attemptCtx context.Context) error {
		resp, apiErr := g.client.Messages.New(attemptCtx, params)
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", ErrEmptyResponse
	}

	g.log.Debugw("generated text",
		"model", g.model,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens)
	return out, nil
}
