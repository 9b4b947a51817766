package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/oni/internal/observability"
	"github.com/harun/oni/internal/tracing"
	"github.com/harun/oni/pkg/session"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBaseURL = "http://localhost:11434/v1/"
	DefaultModel   = "llama2:13b"
	DefaultTimeout = 60 * time.Second

	// Ollama ignores the key, but the client refuses to send without one.
	defaultAPIKey = "ollama"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to an OpenAI-compatible chat endpoint such as Ollama's /v1 API.
type Client struct {
	client  openai.Client
	timeout time.Duration
	baseURL string
}

// NewClient creates a client. Zero values in cfg select the defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = defaultAPIKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Client{
		client: openai.NewClient(
			option.WithBaseURL(cfg.BaseURL),
			option.WithAPIKey(cfg.APIKey),
			option.WithMaxRetries(cfg.MaxRetries),
		),
		timeout: cfg.Timeout,
		baseURL: cfg.BaseURL,
	}
}

// Complete sends messages to model and returns the reply text. It fails with ErrTimeout,
// a *RequestError, ErrEmptyResponse or an error wrapping ErrUnknown.
func (c *Client) Complete(ctx context.Context, model string, messages []session.Message) (string, error) {
	if model == "" {
		model = DefaultModel
	}
	ctx, span := tracing.StartSpan(ctx, "oni.llm", "llm.complete",
		attribute.String("model", model),
		attribute.Int("messages", len(messages)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toParams(messages),
	}

	start := time.Now()
	reply, err := c.complete(ctx, params)
	observability.RecordLLMRequest(status(err), time.Since(start))
	if err != nil {
		tracing.FailSpan(span, err)
		logger.Warn().Err(err).Str("model", model).Dur("duration", time.Since(start)).Msg("Model request failed")
		return "", err
	}

	logger.Debug().Str("model", model).Int("reply_len", len(reply)).Dur("duration", time.Since(start)).Msg("Model replied")
	return reply, nil
}

func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	response, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(response.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := response.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// Models lists the model ids the endpoint serves, sorted.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "oni.llm", "llm.models")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	page, err := c.client.Models.List(ctx)
	if err != nil {
		err = classify(err)
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func toParams(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case session.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case session.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// BaseURL returns the endpoint the client sends requests to.
func (c *Client) BaseURL() string {
	return c.baseURL
}
