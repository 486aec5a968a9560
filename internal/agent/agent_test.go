package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"scrtgate/agent/internal/agent"
	"scrtgate/agent/internal/chain"
	"scrtgate/agent/internal/conversation"
	"scrtgate/agent/internal/gate"
	"scrtgate/agent/internal/llm"
	"scrtgate/agent/internal/store"
	"scrtgate/agent/internal/swap"
	"scrtgate/agent/internal/trade"
	"scrtgate/agent/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeModel struct {
	calls atomic.Int32
	err   error
}

func (f *fakeModel) Generate(context.Context, llm.Request) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "SCRT keeps your trades private. Let me buy some.", nil
}

func (f *fakeModel) Provider() string { return "fake" }
func (f *fakeModel) Model() string    { return "fake-1" }

type fakeChain struct {
	broadcasts atomic.Int32
	active     atomic.Int32
	maxActive  atomic.Int32
}

func (f *fakeChain) Address() string { return "secret1agent" }

func (f *fakeChain) SignAndBroadcast(context.Context, []chain.ExecuteMsg, uint64) (chain.BroadcastResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	f.broadcasts.Add(1)
	time.Sleep(2 * time.Millisecond)
	return chain.BroadcastResult{TxHash: "ABCDEF"}, nil
}

func (f *fakeChain) TxInfo(context.Context, string) (chain.TxInfo, error) {
	return chain.TxInfo{TxHash: "ABCDEF", Height: 7}, nil
}

type fakeQuerier struct{}

func (fakeQuerier) QueryContract(_ context.Context, contract, _ string, _ any, out any) error {
	amount := "2500000"
	if contract == swap.SUSDCContract {
		amount = "400000"
	}
	return json.Unmarshal([]byte(`{"balance":{"amount":"`+amount+`"}}`), out)
}

type harness struct {
	agent *agent.Agent
	store *store.Store
	model *fakeModel
	chain *fakeChain
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	model := &fakeModel{}
	bc := &fakeChain{}
	g := gate.New(s, nil)
	pair := swap.DefaultPair()
	pair.Quote.ViewingKey, pair.Target.ViewingKey = "vk", "vk"

	a := agent.New(agent.Deps{
		Store:   s,
		Consent: g,
		Engine:  conversation.New(s, model, nil, conversation.Options{}, nil),
		Trader: trade.New(g, bc, trade.Options{
			Order:    swap.BuyOrder(pair),
			GasLimit: swap.BuyGasLimit,
			Confirm:  trade.ConfirmPolicy{MinInterval: time.Millisecond, MaxInterval: time.Millisecond, Deadline: time.Second},
		}, nil),
		Balances: swap.Reader{Querier: fakeQuerier{}, Address: "secret1agent", Tokens: []swap.Token{pair.Target, pair.Quote}},
	}, nil)
	return &harness{agent: a, store: s, model: model, chain: bc}
}

func TestHelloThenConsent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	reply, err := h.agent.HandleMessage(ctx, "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "SCRT keeps your trades private. Let me buy some.", reply)
	convinced, err := h.store.IsConvinced(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, convinced)

	reply, err = h.agent.HandleMessage(ctx, "u1", "  You Have Convinced Me ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply, "Excellent! I will begin trading now.\n\n"), reply)
	assert.Contains(t, reply, "Hash: ABCDEF")
	assert.Contains(t, reply, "confirmed at height 7")

	convinced, err = h.store.IsConvinced(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, convinced)
	assert.Equal(t, int32(1), h.model.calls.Load())
	assert.Equal(t, int32(1), h.chain.broadcasts.Load())

	history, err := h.agent.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Message)
	assert.Equal(t, reply, history[1].Response)

	enabled, err := h.agent.TradingEnabled(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestBalanceQueryBypassesModel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	reply, err := h.agent.HandleMessage(ctx, "u1", "query wallet balances")
	require.NoError(t, err)
	assert.Contains(t, reply, "sSCRT Balance: 2.5")
	assert.Contains(t, reply, "sUSDC Balance: 0.4")
	assert.Zero(t, h.model.calls.Load())
	assert.Zero(t, h.chain.broadcasts.Load())

	history, err := h.store.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "query wallet balances", history[0].Message)
	assert.Equal(t, reply, history[0].Response)
}

func TestOtherUsersAreNotConvinced(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.agent.HandleMessage(ctx, "u1", "you have convinced me")
	require.NoError(t, err)

	enabled, err := h.agent.TradingEnabled(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestGenerationFailureKeepsLoopAlive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.model.err = errors.New("model offline")

	_, err := h.agent.HandleMessage(ctx, "u1", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrGeneration)
	assert.Equal(t, "Sorry, I couldn't come up with a reply just now. Please try again.", agent.Describe(err))

	h.model.err = nil
	reply, err := h.agent.HandleMessage(ctx, "u1", "hello again")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)

	history, err := h.store.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello again", history[0].Message)
}

// Every consent message is a separate request to buy, so a repeated or
// retried consent buys again. Same-user attempts must queue, never overlap.
func TestConcurrentConsentSerializesTrades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := h.agent.HandleMessage(ctx, "u1", "you have convinced me")
			assert.NoError(t, err)
			assert.Contains(t, reply, "Excellent!")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), h.chain.broadcasts.Load())
	assert.Equal(t, int32(1), h.chain.maxActive.Load())
	convinced, err := h.store.IsConvinced(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, convinced)

	history, err := h.store.History(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, history, n)
}

type cancellingTrader struct {
	cancel context.CancelFunc
}

func (c cancellingTrader) Execute(context.Context, string) (trade.Result, error) {
	c.cancel()
	return trade.Result{State: trade.StateConfirmTimeout, TxHash: "FEEDBEEF"}, nil
}

func TestConsentTurnSavedAfterCallerLeaves(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := agent.New(agent.Deps{Store: s, Consent: gate.New(s, nil), Trader: cancellingTrader{cancel: cancel}}, nil)

	reply, err := a.HandleMessage(ctx, "u1", "you have convinced me")
	require.NoError(t, err)
	assert.Contains(t, reply, "Hash: FEEDBEEF")
	assert.Contains(t, reply, "Status: unknown")

	history, err := s.History(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, reply, history[0].Response)
}

func TestEmptyUserRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.agent.HandleMessage(context.Background(), " ", "hello")
	assert.ErrorIs(t, err, types.ErrInvalidUser)
}

func TestBalancesNotConfigured(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	defer s.Close()
	a := agent.New(agent.Deps{Store: s, Consent: gate.New(s, nil)}, nil)

	_, err = a.HandleMessage(context.Background(), "u1", "Query Wallet Balances")
	assert.ErrorIs(t, err, types.ErrChainQuery)
}

func TestDescribe(t *testing.T) {
	assert.Empty(t, agent.Describe(nil))
	assert.Contains(t, agent.Describe(types.ErrStorage), "could not save")
	assert.Contains(t, agent.Describe(types.ErrChainQuery), "balances")
	assert.Contains(t, agent.Describe(context.DeadlineExceeded), "too long")
	assert.Equal(t, "Something went wrong. Please try again.", agent.Describe(errors.New("boom")))
}
