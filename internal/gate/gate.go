// Package gate decides whether a user has unlocked trading. Consent is a
// fixed phrase matched by plain string comparison, never by the model.
package gate

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	ConsentPhrase      = "you have convinced me"
	BalanceQueryPhrase = "query wallet balances"
)

type Decision int

const (
	NotGranted Decision = iota
	Granted
)

func (d Decision) String() string {
	if d == Granted {
		return "granted"
	}
	return "not_granted"
}

// Permissions is the slice of the store the gate needs.
type Permissions interface {
	IsConvinced(ctx context.Context, userID string) (bool, error)
	SetConvinced(ctx context.Context, userID string) (bool, error)
}

type Gate struct {
	perms Permissions
	log   *zap.Logger
}

func New(perms Permissions, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{perms: perms, log: log}
}

// Normalize lowercases msg and collapses runs of whitespace.
func Normalize(msg string) string {
	return strings.ToLower(strings.Join(strings.Fields(msg), " "))
}

func IsConsentPhrase(msg string) bool {
	return Normalize(msg) == ConsentPhrase
}

func IsBalanceQuery(msg string) bool {
	return Normalize(msg) == BalanceQueryPhrase
}

// EvaluateConsent grants trading when msg is the consent phrase. Any other
// message leaves the stored state untouched.
func (g *Gate) EvaluateConsent(ctx context.Context, userID, msg string) (Decision, error) {
	if !IsConsentPhrase(msg) {
		return NotGranted, nil
	}
	changed, err := g.perms.SetConvinced(ctx, userID)
	if err != nil {
		return NotGranted, err
	}
	if changed {
		g.log.Info("trading permission granted", zap.String("user", userID))
	} else {
		g.log.Debug("trading permission already granted", zap.String("user", userID))
	}
	return Granted, nil
}

func (g *Gate) TradingEnabled(ctx context.Context, userID string) (bool, error) {
	return g.perms.IsConvinced(ctx, userID)
}
