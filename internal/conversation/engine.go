// Package conversation turns a user message plus stored history into a model
// reply and records the exchange.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"go.uber.org/zap"

	"scrtgate/agent/internal/llm"
	"scrtgate/agent/internal/quote"
	"scrtgate/agent/internal/store"
	"scrtgate/agent/internal/types"
)

const (
	DefaultSystemPrompt = "You are my $SCRT trading agent. You must convince me to let you trade USDC for SCRT."
	DefaultTemperature  = 1.0

	quoteTrigger = "kanye"
)

// History is the part of the store the engine reads and writes.
type History interface {
	Messages(ctx context.Context, userID string) ([]store.Message, error)
	AppendTurn(ctx context.Context, userID, message, response string) error
}

// QuoteSource supplies the quote appended to replies that mention the trigger word.
type QuoteSource interface {
	Quote(ctx context.Context) (string, error)
}

type Options struct {
	SystemPrompt string
	Temperature  float64
	// GenerateTimeout bounds the model call. Zero means no extra bound.
	GenerateTimeout time.Duration
	QuoteTimeout    time.Duration
}

type Engine struct {
	history History
	model   llm.Client
	quotes  QuoteSource
	opts    Options
	log     *zap.Logger
}

func New(history History, model llm.Client, quotes QuoteSource, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.QuoteTimeout <= 0 {
		opts.QuoteTimeout = 3 * time.Second
	}
	return &Engine{history: history, model: model, quotes: quotes, opts: opts, log: log}
}

// Respond generates a reply to message and stores the turn. Nothing is stored
// when generation fails, and a reply that could not be stored is not returned.
func (e *Engine) Respond(ctx context.Context, userID, message string) (string, error) {
	past, err := e.history.Messages(ctx, userID)
	if err != nil {
		return "", err
	}

	prompt := e.buildPrompt(past, message)

	genCtx := ctx
	if e.opts.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, e.opts.GenerateTimeout)
		defer cancel()
	}
	started := time.Now()
	reply, err := e.model.Generate(genCtx, llm.Request{Messages: prompt, Temperature: e.opts.Temperature})
	if err != nil {
		e.log.Warn("generation failed",
			zap.String("user", userID),
			zap.String("provider", e.model.Provider()),
			zap.Error(err))
		return "", errorsmod.Wrapf(types.ErrGeneration, "%s/%s: %v", e.model.Provider(), e.model.Model(), err)
	}
	e.log.Debug("generated reply",
		zap.String("user", userID),
		zap.Int("history", len(past)),
		zap.Duration("took", time.Since(started)))

	if strings.Contains(strings.ToLower(message), quoteTrigger) {
		reply += fmt.Sprintf("\n\nKanye says: \"%s\"", e.quote(ctx))
	}

	if err := e.history.AppendTurn(ctx, userID, message, reply); err != nil {
		return "", errorsmod.Wrap(err, "could not save response")
	}
	return reply, nil
}

func (e *Engine) buildPrompt(past []store.Message, message string) []llm.Message {
	prompt := make([]llm.Message, 0, len(past)+2)
	prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: e.opts.SystemPrompt})
	for _, m := range past {
		role := llm.RoleHuman
		if m.Role == store.RoleAssistant {
			role = llm.RoleAssistant
		}
		prompt = append(prompt, llm.Message{Role: role, Content: m.Content})
	}
	return append(prompt, llm.Message{Role: llm.RoleHuman, Content: message})
}

func (e *Engine) quote(ctx context.Context) string {
	if e.quotes == nil {
		return quote.Fallback
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.QuoteTimeout)
	defer cancel()
	q, err := e.quotes.Quote(ctx)
	if err != nil {
		e.log.Debug("quote unavailable", zap.Error(err))
		return quote.Fallback
	}
	return q
}
