// Package agent routes each chat message to the consent gate and trade
// executor, the balance reader, or the conversation engine.
package agent

import (
	"context"
	"errors"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"go.uber.org/zap"

	"scrtgate/agent/internal/gate"
	"scrtgate/agent/internal/store"
	"scrtgate/agent/internal/swap"
	"scrtgate/agent/internal/trade"
	"scrtgate/agent/internal/types"
)

const tradeAck = "Excellent! I will begin trading now."

type Store interface {
	Lock(userID string) func()
	AppendTurn(ctx context.Context, userID, message, response string) error
	History(ctx context.Context, userID string) ([]store.Turn, error)
}

type Consent interface {
	EvaluateConsent(ctx context.Context, userID, msg string) (gate.Decision, error)
	TradingEnabled(ctx context.Context, userID string) (bool, error)
}

type Responder interface {
	Respond(ctx context.Context, userID, message string) (string, error)
}

type Trader interface {
	Execute(ctx context.Context, userID string) (trade.Result, error)
}

type BalanceReader interface {
	Balances(ctx context.Context) (swap.Snapshot, error)
}

// Deps are the collaborators the facade routes between. Balances may be nil
// when no chain is configured; balance queries then fail with ErrChainQuery.
type Deps struct {
	Store    Store
	Consent  Consent
	Engine   Responder
	Trader   Trader
	Balances BalanceReader
}

type Agent struct {
	deps Deps
	log  *zap.Logger
}

func New(deps Deps, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{deps: deps, log: log}
}

// HandleMessage answers one chat message. Turns for the same user run one at
// a time; different users proceed independently.
func (a *Agent) HandleMessage(ctx context.Context, userID, message string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", types.ErrInvalidUser
	}
	unlock := a.deps.Store.Lock(userID)
	defer unlock()

	switch {
	case gate.IsConsentPhrase(message):
		return a.handleConsent(ctx, userID, message)
	case gate.IsBalanceQuery(message):
		return a.handleBalances(ctx, userID, message)
	default:
		return a.deps.Engine.Respond(ctx, userID, message)
	}
}

func (a *Agent) handleConsent(ctx context.Context, userID, message string) (string, error) {
	if _, err := a.deps.Consent.EvaluateConsent(ctx, userID, message); err != nil {
		return "", err
	}
	res, err := a.deps.Trader.Execute(ctx, userID)
	if err != nil {
		return "", err
	}
	reply := tradeAck + "\n\n" + res.String()
	// the trade has happened; its outcome is saved even if the caller went away
	// and shown even if the turn cannot be saved
	if err := a.deps.Store.AppendTurn(context.WithoutCancel(ctx), userID, message, reply); err != nil {
		a.log.Error("trade turn not saved",
			zap.String("user", userID),
			zap.String("state", string(res.State)),
			zap.String("hash", res.TxHash),
			zap.Error(err))
	}
	return reply, nil
}

func (a *Agent) handleBalances(ctx context.Context, userID, message string) (string, error) {
	if a.deps.Balances == nil {
		return "", errorsmod.Wrap(types.ErrChainQuery, "balance queries are not configured")
	}
	snap, err := a.deps.Balances.Balances(ctx)
	if err != nil {
		return "", err
	}
	reply := snap.String()
	if err := a.deps.Store.AppendTurn(ctx, userID, message, reply); err != nil {
		return "", errorsmod.Wrap(err, "could not save response")
	}
	return reply, nil
}

func (a *Agent) History(ctx context.Context, userID string) ([]store.Turn, error) {
	return a.deps.Store.History(ctx, userID)
}

func (a *Agent) TradingEnabled(ctx context.Context, userID string) (bool, error) {
	return a.deps.Consent.TradingEnabled(ctx, userID)
}

// Describe turns a failed turn into a sentence fit to show the user.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, types.ErrInvalidUser):
		return "I need to know who you are before we can talk."
	case errors.Is(err, types.ErrGeneration):
		return "Sorry, I couldn't come up with a reply just now. Please try again."
	case errors.Is(err, types.ErrStorage):
		return "Sorry, I could not save that response, so I won't show it. Please try again."
	case errors.Is(err, types.ErrChainQuery):
		return "I couldn't read the wallet balances from the chain. Please try again later."
	case errors.Is(err, types.ErrBroadcast):
		return "The trade could not be sent to the network."
	case errors.Is(err, types.ErrTradeInFlight):
		return "A trade is already in progress for you. Wait for it to finish."
	case errors.Is(err, types.ErrConfig):
		return "The agent is not configured correctly: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long. Please try again."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	default:
		return "Something went wrong. Please try again."
	}
}
