package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/oni/internal/tracing"
	"github.com/harun/oni/pkg/llm"
	"github.com/harun/oni/pkg/session"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrTurnInProgress  = errors.New("a reply for this session is still being generated")
	ErrEmptyInput      = errors.New("message cannot be empty")
	ErrUnknownModel    = errors.New("unknown model")
	ErrSessionNotFound = errors.New("session not found")
)

// Model is the completion endpoint a conversation talks to.
type Model interface {
	Complete(ctx context.Context, model string, messages []session.Message) (string, error)
	Models(ctx context.Context) ([]string, error)
}

// Config configures a Conversation.
type Config struct {
	SystemPrompt string
	DefaultModel string
	DefaultName  string
}

// Conversation runs chat turns against the active session of each user.
type Conversation struct {
	sessions     *session.Manager
	model        Model
	selector     *Selector
	systemPrompt string
	defaultModel string

	mu     sync.Mutex
	models map[partition]string
}

// NewConversation wires a session manager to a model.
func NewConversation(sessions *session.Manager, model Model, cfg Config) *Conversation {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = llm.DefaultSystemPrompt
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = llm.DefaultModel
	}
	return &Conversation{
		sessions:     sessions,
		model:        model,
		selector:     NewSelector(sessions, cfg.DefaultName),
		systemPrompt: cfg.SystemPrompt,
		defaultModel: cfg.DefaultModel,
		models:       make(map[partition]string),
	}
}

func (c *Conversation) Selector() *Selector {
	return c.selector
}

// turnBusy reports a write rejected because a turn holds the session.
func turnBusy(err error) error {
	if errors.Is(err, session.ErrSessionBusy) {
		return fmt.Errorf("%w: %w", ErrTurnInProgress, err)
	}
	return err
}

// Turn sends input to the model with the user's active transcript and saves the exchange.
// The session is leased for the whole turn, so other writes to it are rejected, but no lock is
// held while the model runs. When the read or the model call fails the session is left as it was.
func (c *Conversation) Turn(ctx context.Context, guildID, userID, input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", ErrEmptyInput
	}

	key := c.selector.Current(guildID, userID)
	ctx = tracing.NewRequestContext(ctx, guildID, userID)
	ctx = tracing.WithSessionKey(ctx, key.String())
	ctx, span := tracing.StartSpan(ctx, "oni.chat", "chat.turn",
		attribute.String("session", key.Name),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	lease, err := c.sessions.Reserve(key)
	if err != nil {
		return "", turnBusy(err)
	}
	defer lease.Release()

	transcript, err := lease.Load(ctx)
	if err != nil {
		tracing.FailSpan(span, err)
		logger.Error().Err(err).Msg("Failed to load session for turn")
		return "", err
	}
	prompt := llm.BuildPrompt(c.systemPrompt, transcript, input)

	model := c.ModelFor(guildID, userID)
	reply, err := c.model.Complete(ctx, model, prompt)
	if err != nil {
		tracing.FailSpan(span, err)
		return "", err
	}

	next := transcript.Append(
		session.Message{Role: session.RoleUser, Content: input},
		session.Message{Role: session.RoleAssistant, Content: reply},
	)
	if err := lease.Update(ctx, next); err != nil {
		tracing.FailSpan(span, err)
		logger.Error().Err(err).Msg("Failed to save turn")
		return reply, err
	}

	logger.Info().Str("model", model).Int("messages", len(next)).Msg("Turn completed")
	return reply, nil
}

// ModelFor returns the model selected by the user, or the default.
func (c *Conversation) ModelFor(guildID, userID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[partition{guildID, userID}]; ok {
		return m
	}
	return c.defaultModel
}

// SetModel selects a model for the user after checking the endpoint serves it.
func (c *Conversation) SetModel(ctx context.Context, guildID, userID, model string) error {
	available, err := c.model.Models(ctx)
	if err != nil {
		return err
	}
	for _, m := range available {
		if m == model {
			c.mu.Lock()
			c.models[partition{guildID, userID}] = model
			c.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownModel, model)
}

// CreateSession creates a named session and makes it the active one.
func (c *Conversation) CreateSession(ctx context.Context, guildID, userID, name string) error {
	if err := c.sessions.Create(ctx, session.NewKey(guildID, userID, name)); err != nil {
		return err
	}
	c.selector.set(guildID, userID, name)
	return nil
}

// ClearSession empties the active session. It fails with ErrTurnInProgress during a turn.
func (c *Conversation) ClearSession(ctx context.Context, guildID, userID string) error {
	return turnBusy(c.sessions.Clear(ctx, c.selector.Current(guildID, userID)))
}

// DeleteSession removes a session. Deleting the active one moves the user to the default session.
// It fails with ErrTurnInProgress during a turn on that session.
func (c *Conversation) DeleteSession(ctx context.Context, guildID, userID, name string) error {
	key := session.NewKey(guildID, userID, name)
	if err := c.sessions.Delete(ctx, key); err != nil {
		return turnBusy(err)
	}
	if c.selector.Current(guildID, userID) == key {
		c.selector.Reset(guildID, userID)
	}
	return nil
}
