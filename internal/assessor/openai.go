// Package assessor judges item quality with a chat-completion model. It
// renders the rubric into the prompt, parses the model's JSON reply into a
// domain.Assessment and guards the provider with a circuit breaker. It never
// retries; retry policy belongs to callers.
package assessor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/aethelgard/qualitycheck/internal/domain"
)

// ProviderName is recorded in telemetry.
const ProviderName = "openai"

// Config configures the OpenAI assessor.
type Config struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url" validate:"omitempty,url"`
	Model         string        `mapstructure:"model" validate:"required"`
	PromptVersion string        `mapstructure:"prompt_version"`
	GraphVersion  string        `mapstructure:"graph_version"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

// DefaultConfig returns defaults for everything except the API key.
func DefaultConfig() Config {
	return Config{
		Model:         "gpt-4o-mini",
		PromptVersion: DefaultPromptVersion,
		GraphVersion:  "single-pass",
		Breaker:       DefaultBreakerConfig(),
	}
}

// OpenAI implements domain.Assessor on the chat completions API.
type OpenAI struct {
	client  openai.Client
	cfg     Config
	breaker *Breaker
	system  string
	logger  *slog.Logger
}

var _ domain.Assessor = (*OpenAI)(nil)

// New builds an OpenAI assessor. Extra request options are appended after
// the configured key and base URL.
func New(cfg Config, extra ...option.RequestOption) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; set assessor.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("assessor model is required")
	}
	if cfg.PromptVersion == "" {
		cfg.PromptVersion = DefaultPromptVersion
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = DefaultBreakerConfig()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)

	return &OpenAI{
		client:  openai.NewClient(opts...),
		cfg:     cfg,
		breaker: NewBreaker(cfg.Breaker),
		system:  systemPrompt(),
		logger:  slog.Default().With("component", "assessor", "model", cfg.Model),
	}, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (o *OpenAI) Breaker() *Breaker { return o.breaker }

// Assess implements domain.Assessor.
func (o *OpenAI) Assess(ctx context.Context, item domain.Item, mode domain.ValidationMode) (*domain.Assessment, error) {
	user, err := userPrompt(item, mode)
	if err != nil {
		return nil, err
	}

	done, err := o.breaker.Allow()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(o.system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0),
	})
	latency := time.Since(start)
	if err != nil {
		done(!countsAsOutage(ctx, err))
		o.logger.WarnContext(ctx, "assessment request failed",
			"item_id", item.ItemID(), "latency_ms", latency.Milliseconds(), "error", err)
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	done(true)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", domain.ErrInvalidAssessment)
	}

	tel := domain.Telemetry{
		RunID:         uuid.NewString(),
		Model:         o.cfg.Model,
		Provider:      ProviderName,
		PromptVersion: o.cfg.PromptVersion,
		GraphVersion:  o.cfg.GraphVersion,
		LatencyMS:     latency.Milliseconds(),
		Tokens:        resp.Usage.TotalTokens,
	}
	a, err := parseReply(resp.Choices[0].Message.Content, tel)
	if err != nil {
		o.logger.WarnContext(ctx, "unusable assessment reply", "item_id", item.ItemID(), "error", err)
		return nil, err
	}

	o.logger.DebugContext(ctx, "item assessed",
		"item_id", item.ItemID(), "latency_ms", tel.LatencyMS, "tokens", tel.Tokens)
	return a, nil
}

// countsAsOutage reports whether err says the provider is unhealthy. Caller
// cancellation and request errors other than throttling do not trip the
// breaker.
func countsAsOutage(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}
