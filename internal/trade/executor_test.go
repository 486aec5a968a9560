package trade_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"scrtgate/agent/internal/chain"
	"scrtgate/agent/internal/journal"
	"scrtgate/agent/internal/swap"
	"scrtgate/agent/internal/trade"
	"scrtgate/agent/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePerms struct {
	enabled bool
	err     error
}

func (f fakePerms) TradingEnabled(context.Context, string) (bool, error) { return f.enabled, f.err }

type fakeChain struct {
	broadcast   chain.BroadcastResult
	broadcastEr error
	// lookups are answered in order; the last one repeats
	lookups []lookup
	release chan struct{}
	// onSubmit runs once the fake node has the transaction
	onSubmit func()

	submitCtxErr error

	broadcasts atomic.Int32
	txInfos    atomic.Int32
	msgs       []chain.ExecuteMsg
	gas        uint64
}

type lookup struct {
	info chain.TxInfo
	err  error
}

func (f *fakeChain) Address() string { return "secret1agent" }

func (f *fakeChain) SignAndBroadcast(ctx context.Context, msgs []chain.ExecuteMsg, gas uint64) (chain.BroadcastResult, error) {
	f.broadcasts.Add(1)
	f.msgs, f.gas = msgs, gas
	if f.release != nil {
		<-f.release
	}
	if f.onSubmit != nil {
		f.onSubmit()
	}
	if err := ctx.Err(); err != nil {
		f.submitCtxErr = err
		return chain.BroadcastResult{}, err
	}
	return f.broadcast, f.broadcastEr
}

func (f *fakeChain) TxInfo(context.Context, string) (chain.TxInfo, error) {
	n := int(f.txInfos.Add(1)) - 1
	if len(f.lookups) == 0 {
		return chain.TxInfo{}, chain.ErrTxNotFound
	}
	if n >= len(f.lookups) {
		n = len(f.lookups) - 1
	}
	return f.lookups[n].info, f.lookups[n].err
}

func fastPolicy() trade.ConfirmPolicy {
	return trade.ConfirmPolicy{
		InitialWait: time.Millisecond,
		MinInterval: time.Millisecond,
		MaxInterval: 4 * time.Millisecond,
		Deadline:    150 * time.Millisecond,
	}
}

func newExecutor(perms trade.Permissions, c chain.Broadcaster, j trade.Journal) *trade.Executor {
	return trade.New(perms, c, trade.Options{
		Order:    swap.BuyOrder(swap.DefaultPair()),
		GasLimit: swap.BuyGasLimit,
		Confirm:  fastPolicy(),
		Journal:  j,
	}, nil)
}

func TestDeniedMakesNoChainCalls(t *testing.T) {
	c := &fakeChain{}
	res, err := newExecutor(fakePerms{enabled: false}, c, nil).Execute(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, trade.StateDenied, res.State)
	assert.Equal(t, "Trading is not yet enabled. Convince me first!", res.String())
	assert.Zero(t, c.broadcasts.Load())
	assert.Zero(t, c.txInfos.Load())
}

func TestPermissionCheckFailure(t *testing.T) {
	c := &fakeChain{}
	_, err := newExecutor(fakePerms{err: types.ErrStorage}, c, nil).Execute(context.Background(), "u1")
	assert.ErrorIs(t, err, types.ErrStorage)
	assert.Zero(t, c.broadcasts.Load())
}

func TestConfirmedAfterPending(t *testing.T) {
	c := &fakeChain{
		broadcast: chain.BroadcastResult{TxHash: "HASH1"},
		lookups: []lookup{
			{err: chain.ErrTxNotFound},
			{err: chain.ErrTxNotFound},
			{info: chain.TxInfo{TxHash: "HASH1", Height: 99, GasUsed: 1_000_000, GasWanted: 3_500_000}},
		},
	}
	res, err := newExecutor(fakePerms{enabled: true}, c, nil).Execute(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, trade.StateConfirmed, res.State)
	assert.Equal(t, "confirmed", res.Status())
	assert.NoError(t, res.Err)
	assert.Equal(t, int32(1), c.broadcasts.Load())
	assert.Equal(t, int32(3), c.txInfos.Load())
	assert.Contains(t, res.String(), "Transaction executed: Tx Code: 0 | Hash: HASH1")
	assert.Contains(t, res.String(), "confirmed at height 99")

	require.Len(t, c.msgs, 1)
	assert.Equal(t, swap.SUSDCContract, c.msgs[0].Contract)
	assert.Equal(t, swap.BuyGasLimit, c.gas)
}

func TestFailedOnChain(t *testing.T) {
	c := &fakeChain{
		broadcast: chain.BroadcastResult{TxHash: "HASH2"},
		lookups:   []lookup{{info: chain.TxInfo{Height: 5, Code: 3, RawLog: "out of gas"}}},
	}
	res, err := newExecutor(fakePerms{enabled: true}, c, nil).Execute(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, trade.StateConfirmed, res.State)
	assert.Equal(t, "failed on chain", res.Status())
	assert.Contains(t, res.String(), "out of gas")
}

func TestStatusUnknownKeepsHash(t *testing.T) {
	c := &fakeChain{
		broadcast: chain.BroadcastResult{TxHash: "HASH3"},
		lookups:   []lookup{{err: errors.New("lcd unreachable")}},
	}
	res, err := newExecutor(fakePerms{enabled: true}, c, nil).Execute(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, trade.StateConfirmTimeout, res.State)
	assert.Equal(t, "unknown", res.Status())
	assert.Equal(t, "HASH3", res.TxHash)
	assert.ErrorIs(t, res.Err, types.ErrConfirmationUnknown)
	assert.ErrorContains(t, res.Err, "lcd unreachable")
	assert.Contains(t, res.String(), "HASH3")
	assert.Contains(t, res.String(), "Status: unknown")
	assert.Equal(t, int32(1), c.broadcasts.Load())
	assert.Greater(t, c.txInfos.Load(), int32(1))
}

func TestNeverFoundIsUnknown(t *testing.T) {
	c := &fakeChain{broadcast: chain.BroadcastResult{TxHash: "HASH4"}}
	res, err := newExecutor(fakePerms{enabled: true}, c, nil).Execute(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, trade.StateConfirmTimeout, res.State)
	assert.ErrorIs(t, res.Err, types.ErrConfirmationUnknown)
}

func TestCancelledWaitIsUnknown(t *testing.T) {
	c := &fakeChain{broadcast: chain.BroadcastResult{TxHash: "HASH5"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newExecutor(fakePerms{enabled: true}, c, nil).Execute(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, trade.StateConfirmTimeout, res.State)
	assert.Equal(t, "HASH5", res.TxHash)
}

func TestBroadcastErrorIsNotRetried(t *testing.T) {
	c := &fakeChain{broadcastEr: errors.New("insufficient funds")}
	res, err := newExecutor(fakePerms{enabled: true}, c, nil).Execute(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, trade.StateFailed, res.State)
	assert.ErrorIs(t, res.Err, types.ErrBroadcast)
	assert.True(t, strings.HasPrefix(res.String(), "Error executing transaction:"), res.String())
	assert.Contains(t, res.String(), "insufficient funds")
	assert.NotContains(t, res.String(), ".go:")
	assert.Equal(t, int32(1), c.broadcasts.Load())
	assert.Zero(t, c.txInfos.Load())
}

func TestRejectedByNode(t *testing.T) {
	c := &fakeChain{broadcast: chain.BroadcastResult{TxHash: "HASH6", Code: 13, Codespace: "sdk", RawLog: "insufficient fee"}}
	res, err := newExecutor(fakePerms{enabled: true}, c, nil).Execute(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, trade.StateFailed, res.State)
	assert.Equal(t, "rejected", res.Status())
	assert.ErrorIs(t, res.Err, types.ErrBroadcast)
	assert.Contains(t, res.String(), "Tx Code: 13 | Hash: HASH6")
	assert.Contains(t, res.String(), "insufficient fee")
	assert.NotContains(t, res.String(), ".go:")
	assert.Zero(t, c.txInfos.Load())
}

func TestCallerCancelDoesNotAbortBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &fakeChain{broadcast: chain.BroadcastResult{TxHash: "HASH9"}, onSubmit: cancel}

	res, err := newExecutor(fakePerms{enabled: true}, c, nil).Execute(ctx, "u1")
	require.NoError(t, err)
	assert.NoError(t, c.submitCtxErr)
	assert.Equal(t, trade.StateConfirmTimeout, res.State)
	assert.Equal(t, "unknown", res.Status())
	assert.Equal(t, "HASH9", res.TxHash)
	assert.Contains(t, res.String(), "Hash: HASH9")
	assert.NotContains(t, res.String(), "Error executing transaction")
}

func TestUnansweredBroadcastKeepsLocalHash(t *testing.T) {
	lost := &chain.SubmitError{TxHash: "HASH10", Err: io.ErrUnexpectedEOF}

	t.Run("never found", func(t *testing.T) {
		c := &fakeChain{broadcastEr: lost}
		res, err := newExecutor(fakePerms{enabled: true}, c, nil).Execute(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, trade.StateConfirmTimeout, res.State)
		assert.ErrorIs(t, res.Err, types.ErrConfirmationUnknown)
		assert.Equal(t, "HASH10", res.TxHash)
		assert.Contains(t, res.String(), "Status: unknown")
		assert.Greater(t, c.txInfos.Load(), int32(0))
	})

	t.Run("landed anyway", func(t *testing.T) {
		c := &fakeChain{broadcastEr: lost, lookups: []lookup{{info: chain.TxInfo{TxHash: "HASH10", Height: 5}}}}
		res, err := newExecutor(fakePerms{enabled: true}, c, nil).Execute(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, trade.StateConfirmed, res.State)
		assert.Contains(t, res.String(), "confirmed at height 5")
	})
}

func TestSecondTradeRejectedWhileInFlight(t *testing.T) {
	c := &fakeChain{
		broadcast: chain.BroadcastResult{TxHash: "HASH7"},
		lookups:   []lookup{{info: chain.TxInfo{Height: 1}}},
		release:   make(chan struct{}),
	}
	e := newExecutor(fakePerms{enabled: true}, c, nil)

	var wg sync.WaitGroup
	var first trade.Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, _ = e.Execute(context.Background(), "u1")
	}()
	require.Eventually(t, func() bool { return c.broadcasts.Load() == 1 }, time.Second, time.Millisecond)

	second, err := e.Execute(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, trade.StateInFlight, second.State)
	assert.ErrorIs(t, second.Err, types.ErrTradeInFlight)

	close(c.release)
	wg.Wait()
	assert.Equal(t, trade.StateConfirmed, first.State)
	assert.Equal(t, int32(1), c.broadcasts.Load())
}

func TestJournalRecordsAttempts(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "trades.bolt"))
	require.NoError(t, err)
	defer j.Close()

	ok := &fakeChain{
		broadcast: chain.BroadcastResult{TxHash: "HASH8"},
		lookups:   []lookup{{info: chain.TxInfo{Height: 12, RawLog: "[]"}}},
	}
	_, err = newExecutor(fakePerms{enabled: true}, ok, j).Execute(context.Background(), "u1")
	require.NoError(t, err)

	bad := &fakeChain{broadcastEr: errors.New("node down")}
	_, err = newExecutor(fakePerms{enabled: true}, bad, j).Execute(context.Background(), "u1")
	require.NoError(t, err)

	_, err = newExecutor(fakePerms{enabled: false}, ok, j).Execute(context.Background(), "u1")
	require.NoError(t, err)

	entries, err := j.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "confirmed", entries[0].State)
	assert.Equal(t, "HASH8", entries[0].TxHash)
	assert.Equal(t, int64(12), entries[0].Height)
	assert.Equal(t, "failed", entries[1].State)
	assert.Contains(t, entries[1].Error, "node down")
}
