// Package trade places the agent's single swap order for a user who has given
// consent and follows the transaction until it lands or the wait runs out.
package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"
	"go.uber.org/zap"

	"scrtgate/agent/internal/chain"
	"scrtgate/agent/internal/journal"
	"scrtgate/agent/internal/keylock"
	"scrtgate/agent/internal/types"
)

type State string

const (
	StateCheckPermission State = "check_permission"
	StateDenied          State = "denied"
	StateInFlight        State = "in_flight"
	StateSubmitting      State = "submitting"
	StateSubmitted       State = "submitted"
	StateConfirming      State = "confirming"
	StateConfirmed       State = "confirmed"
	StateConfirmTimeout  State = "confirm_timeout"
	StateFailed          State = "failed"
)

// Permissions answers whether a user has consented to trading.
type Permissions interface {
	TradingEnabled(ctx context.Context, userID string) (bool, error)
}

// Journal records finished trade attempts.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
}

// ConfirmPolicy bounds how long a broadcast transaction is followed.
type ConfirmPolicy struct {
	InitialWait time.Duration
	MinInterval time.Duration
	MaxInterval time.Duration
	Deadline    time.Duration
}

func DefaultConfirmPolicy() ConfirmPolicy {
	return ConfirmPolicy{
		InitialWait: 8 * time.Second,
		MinInterval: 2 * time.Second,
		MaxInterval: 8 * time.Second,
		Deadline:    60 * time.Second,
	}
}

type Options struct {
	Order    chain.ExecuteMsg
	GasLimit uint64
	Confirm  ConfirmPolicy
	Journal  Journal
	// SubmitTimeout bounds signing and broadcasting. The caller's cancellation
	// does not reach the submit step.
	SubmitTimeout time.Duration
}

const defaultSubmitTimeout = 30 * time.Second

type Executor struct {
	perms    Permissions
	chain    chain.Broadcaster
	opts     Options
	inflight *keylock.Locker
	log      *zap.Logger
}

func New(perms Permissions, bc chain.Broadcaster, opts Options, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfirmPolicy()
	if opts.Confirm.MinInterval <= 0 {
		opts.Confirm.MinInterval = def.MinInterval
	}
	if opts.Confirm.MaxInterval < opts.Confirm.MinInterval {
		opts.Confirm.MaxInterval = opts.Confirm.MinInterval
	}
	if opts.Confirm.Deadline <= 0 {
		opts.Confirm.Deadline = def.Deadline
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = defaultSubmitTimeout
	}
	return &Executor{
		perms:    perms,
		chain:    bc,
		opts:     opts,
		inflight: keylock.New(),
		log:      log,
	}
}

// Execute runs one trade attempt for userID. Trade outcomes, including a
// failed broadcast, are reported in the Result; the error is only set when the
// permission check itself could not be made.
func (e *Executor) Execute(ctx context.Context, userID string) (Result, error) {
	log := e.log.With(zap.String("user", userID))
	log.Debug("trade state", zap.String("state", string(StateCheckPermission)))

	enabled, err := e.perms.TradingEnabled(ctx, userID)
	if err != nil {
		return Result{State: StateFailed, Err: err}, err
	}
	if !enabled {
		log.Info("trade denied")
		return Result{State: StateDenied}, nil
	}

	unlock, ok := e.inflight.TryLock(userID)
	if !ok {
		log.Warn("trade already in flight")
		return Result{State: StateInFlight, Err: types.ErrTradeInFlight}, nil
	}
	defer unlock()

	started := time.Now()
	res := e.run(ctx, log, userID)
	e.record(ctx, log, userID, started, res)
	return res, nil
}

func (e *Executor) run(ctx context.Context, log *zap.Logger, userID string) Result {
	log.Info("trade state", zap.String("state", string(StateSubmitting)))
	// a transaction that left the process cannot be called back
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.SubmitTimeout)
	br, err := e.chain.SignAndBroadcast(submitCtx, []chain.ExecuteMsg{e.opts.Order}, e.opts.GasLimit)
	cancel()
	var submitErr *chain.SubmitError
	switch {
	case errors.As(err, &submitErr):
		log.Warn("broadcast unanswered", zap.String("hash", submitErr.TxHash), zap.Error(err))
		br = chain.BroadcastResult{TxHash: submitErr.TxHash}
	case err != nil:
		log.Error("broadcast failed", zap.Error(err))
		return Result{State: StateFailed, Err: errorsmod.Wrap(types.ErrBroadcast, err.Error())}
	}
	res := Result{TxHash: br.TxHash, Code: br.Code}
	if br.Code != 0 {
		log.Error("broadcast rejected",
			zap.String("hash", br.TxHash),
			zap.Uint32("code", br.Code),
			zap.String("raw_log", br.RawLog))
		res.State = StateFailed
		res.Err = errorsmod.Wrapf(types.ErrBroadcast, "rejected by node: code %d (%s): %s", br.Code, br.Codespace, br.RawLog)
		return res
	}
	log.Info("trade state", zap.String("state", string(StateSubmitted)), zap.String("hash", br.TxHash))

	log.Debug("trade state", zap.String("state", string(StateConfirming)))
	info, lastErr := e.confirm(ctx, log, br.TxHash)
	if info == nil {
		res.State = StateConfirmTimeout
		reason := "not found before the confirmation deadline"
		if lastErr != nil {
			reason = lastErr.Error()
		}
		if submitErr != nil {
			reason = "node did not answer the broadcast (" + submitErr.Err.Error() + "), " + reason
		}
		res.Err = errorsmod.Wrapf(types.ErrConfirmationUnknown, "tx %s: %s", br.TxHash, reason)
		log.Warn("trade status unknown", zap.String("hash", br.TxHash), zap.String("reason", reason))
		return res
	}
	res.State = StateConfirmed
	res.Info = info
	log.Info("trade confirmed",
		zap.String("hash", br.TxHash),
		zap.Int64("height", info.Height),
		zap.Uint32("code", info.Code))
	return res
}

// confirm polls for the transaction with a doubling interval until it shows up
// or the deadline passes. It returns the last lookup error that was not a
// plain "not found".
func (e *Executor) confirm(ctx context.Context, log *zap.Logger, hash string) (*chain.TxInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Confirm.Deadline)
	defer cancel()

	var lastErr error
	if err := sleep(ctx, e.opts.Confirm.InitialWait); err != nil {
		return nil, err
	}
	interval := e.opts.Confirm.MinInterval
	for attempt := 1; ; attempt++ {
		info, err := e.chain.TxInfo(ctx, hash)
		switch {
		case err == nil:
			return &info, nil
		case errors.Is(err, chain.ErrTxNotFound):
			log.Debug("tx pending", zap.String("hash", hash), zap.Int("attempt", attempt))
		default:
			lastErr = err
			log.Warn("tx lookup failed", zap.String("hash", hash), zap.Int("attempt", attempt), zap.Error(err))
		}
		if err := sleep(ctx, interval); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return nil, lastErr
		}
		interval *= 2
		if interval > e.opts.Confirm.MaxInterval {
			interval = e.opts.Confirm.MaxInterval
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Executor) record(ctx context.Context, log *zap.Logger, userID string, started time.Time, res Result) {
	if e.opts.Journal == nil {
		return
	}
	entry := journal.Entry{
		User:       userID,
		State:      string(res.State),
		TxHash:     res.TxHash,
		Code:       res.Code,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if res.Info != nil {
		entry.Code = res.Info.Code
		entry.Height = res.Info.Height
		entry.RawLog = res.Info.RawLog
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	// the trade already happened, so the record is written even if the caller gave up
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := e.opts.Journal.Record(rctx, entry); err != nil {
		log.Error("journal write failed", zap.String("hash", res.TxHash), zap.Error(err))
	}
}

// Result is the outcome of one trade attempt. TxHash is set whenever the
// transaction reached the node, whatever happened afterwards.
type Result struct {
	State  State
	TxHash string
	Code   uint32
	Info   *chain.TxInfo
	Err    error
}

// Status is the short outcome word shown to users.
func (r Result) Status() string {
	switch r.State {
	case StateConfirmed:
		if r.Info != nil && r.Info.Code != 0 {
			return "failed on chain"
		}
		return "confirmed"
	case StateConfirmTimeout:
		return "unknown"
	case StateFailed:
		if r.TxHash != "" {
			return "rejected"
		}
		return "failed"
	default:
		return string(r.State)
	}
}

func (r Result) String() string {
	switch r.State {
	case StateDenied:
		return "Trading is not yet enabled. Convince me first!"
	case StateInFlight:
		return "A trade is already in progress for you. Wait for it to finish."
	case StateFailed:
		if r.TxHash == "" {
			return "Error executing transaction: " + errText(r.Err)
		}
	}

	head := fmt.Sprintf("Transaction executed: Tx Code: %d | Hash: %s", r.Code, r.TxHash)
	switch r.State {
	case StateConfirmed:
		if r.Info.Code != 0 {
			return fmt.Sprintf("%s\nStatus: failed on chain at height %d (code %d): %s", head, r.Info.Height, r.Info.Code, r.Info.RawLog)
		}
		return fmt.Sprintf("%s\nStatus: confirmed at height %d (gas used %d of %d)", head, r.Info.Height, r.Info.GasUsed, r.Info.GasWanted)
	case StateConfirmTimeout:
		return head + "\nStatus: unknown. The transaction was broadcast but not confirmed yet; check the hash before trying again."
	case StateFailed:
		return head + "\nStatus: rejected: " + errText(r.Err)
	}
	return head
}

// errText is the message alone; %v on a wrapped error adds its call site.
func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
