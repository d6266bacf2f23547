package unit

import (
	"bytes"
	"context"
	"math/big"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/cycle_runner/internal/accounts"
	"github.com/R3E-Network/cycle_runner/internal/action"
	"github.com/R3E-Network/cycle_runner/internal/chain"
	"github.com/R3E-Network/cycle_runner/internal/cycle"
	"github.com/R3E-Network/cycle_runner/internal/errors"
)

type stubChain struct {
	mu      sync.Mutex
	submits int
	closed  bool
	failErr error
}

func (s *stubChain) Submit(_ context.Context, act action.Action, amount *big.Int) (*chain.PendingTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	if s.failErr != nil {
		return nil, s.failErr
	}
	return &chain.PendingTx{Hash: common.BigToHash(big.NewInt(int64(s.submits))), Action: act.Name, Amount: amount}, nil
}

func (s *stubChain) Await(_ context.Context, p *chain.PendingTx) (*chain.Confirmation, error) {
	return &chain.Confirmation{Hash: p.Hash, BlockNumber: 1}, nil
}

func (s *stubChain) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func testAccount(t *testing.T) accounts.Account {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return accounts.Account{Index: 3, Address: crypto.PubkeyToAddress(key.PublicKey), Key: key}
}

func testConfig(t *testing.T, sc *stubChain, reps int) Config {
	t.Helper()
	amounts, err := cycle.NewAmountRange("0.01", "0.05", 4)
	require.NoError(t, err)
	return Config{
		Account: testAccount(t),
		Proxy:   accounts.Binding{Scheme: "http", Host: "10.0.0.1", Port: 8080, Username: "u", Password: "secret"},
		Pair: action.Pair{
			Name:       "test",
			Commit:     action.Action{Name: "wrap"},
			Compensate: action.Action{Name: "unwrap"},
		},
		Plan:    cycle.Plan{Repetitions: reps},
		Amounts: amounts,
		Delays:  cycle.DelayWindow{Min: time.Millisecond, Max: 2 * time.Millisecond},
		Dial: func(context.Context, accounts.Account, accounts.Binding) (Chain, error) {
			return sc, nil
		},
		Reporter: NewReporter(256),
		Logger:   zerolog.Nop(),
		Rand:     rand.New(rand.NewSource(1)),
		Sleep:    func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

func drain(r *Reporter) []Event {
	r.Close()
	var out []Event
	for e := range r.Events() {
		out = append(out, e)
	}
	return out
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestRun_Completes(t *testing.T) {
	sc := &stubChain{}
	cfg := testConfig(t, sc, 3)
	u := New(cfg)
	assert.Equal(t, StateIdle, u.State())

	res := u.Run(context.Background())

	require.True(t, res.Outcome.OK(), res.Outcome.String())
	assert.Equal(t, StateCompleted, u.State())
	assert.Equal(t, 3, u.Cycle())
	assert.Equal(t, 3, res.Completed)
	assert.Equal(t, 3, res.Index)
	assert.Equal(t, cfg.Account.Address, res.Address)
	assert.NotContains(t, res.Proxy, "secret")
	assert.Equal(t, 6, sc.submits)
	assert.True(t, sc.closed, "client not closed")

	events := drain(cfg.Reporter)
	require.NotEmpty(t, events)
	assert.Equal(t, KindStarted, events[0].Kind)
	last := events[len(events)-1]
	assert.Equal(t, KindFinished, last.Kind)
	assert.Equal(t, StateCompleted, last.State)
	for _, e := range events {
		assert.Equal(t, 3, e.Unit)
	}
}

func TestRun_StateWhileWaiting(t *testing.T) {
	sc := &stubChain{}
	cfg := testConfig(t, sc, 2)
	var u *Unit
	var seen []State
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		seen = append(seen, u.State())
		return nil
	}
	u = New(cfg)

	res := u.Run(context.Background())
	require.True(t, res.Outcome.OK())
	assert.Equal(t, []State{StateWaiting}, seen)
}

func TestRun_DialFailure(t *testing.T) {
	cfg := testConfig(t, &stubChain{}, 2)
	cfg.Dial = func(context.Context, accounts.Account, accounts.Binding) (Chain, error) {
		return nil, errors.Network("dial", errors.New("proxy refused"))
	}
	u := New(cfg)

	res := u.Run(context.Background())
	assert.False(t, res.Outcome.OK())
	assert.True(t, errors.IsKind(res.Outcome.Reason, errors.KindNetwork))
	assert.Equal(t, StateFailed, u.State())
	assert.Equal(t, 0, u.Cycle())
}

func TestRun_ChainFailure(t *testing.T) {
	sc := &stubChain{failErr: errors.Network("submit wrap", errors.New("insufficient funds"))}
	u := New(testConfig(t, sc, 3))

	res := u.Run(context.Background())
	assert.False(t, res.Outcome.OK())
	assert.Equal(t, StateFailed, u.State())
	assert.Equal(t, 1, sc.submits)
	assert.Equal(t, 1, u.Cycle())
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	cfg := testConfig(t, &stubChain{}, 1)
	cfg.Dial = func(context.Context, accounts.Account, accounts.Binding) (Chain, error) {
		panic("boom")
	}
	u := New(cfg)

	var res Result
	require.NotPanics(t, func() { res = u.Run(context.Background()) })
	assert.False(t, res.Outcome.OK())
	assert.Contains(t, res.Outcome.Reason.Error(), "boom")
	assert.Equal(t, StateFailed, u.State())
	assert.False(t, res.Finished.IsZero())
}

func TestRun_LogsCarryUnitContext(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig(t, &stubChain{}, 1)
	cfg.Logger = zerolog.New(&buf)
	cfg.ExplorerURL = "https://explorer.test/tx/"

	New(cfg).Run(context.Background())

	out := buf.String()
	assert.Contains(t, out, `"unit":3`)
	assert.Contains(t, out, cfg.Account.Address.Hex())
	assert.Contains(t, out, "https://explorer.test/tx/0x")
	assert.NotContains(t, out, "secret")
}

// =============================================================================
// Reporter
// =============================================================================

func TestReporter_FullBufferDropsWithoutBlocking(t *testing.T) {
	cfg := testConfig(t, &stubChain{}, 5)
	cfg.Reporter = NewReporter(2)

	done := make(chan Result)
	go func() { done <- New(cfg).Run(context.Background()) }()

	select {
	case res := <-done:
		assert.True(t, res.Outcome.OK(), "terminal outcome is not an event and is never lost")
	case <-time.After(5 * time.Second):
		t.Fatal("unit blocked on a full event buffer")
	}
	assert.Greater(t, cfg.Reporter.Dropped(), int64(0))
	assert.Len(t, drain(cfg.Reporter), 2)
}

func TestReporter_SendAfterClose(t *testing.T) {
	r := NewReporter(4)
	assert.True(t, r.Send(Event{}))
	r.Close()
	r.Close()
	assert.False(t, r.Send(Event{}))
	assert.Equal(t, int64(1), r.Dropped())

	var nilReporter *Reporter
	assert.False(t, nilReporter.Send(Event{}))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "waiting", StateWaiting.String())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.Equal(t, "finished", KindFinished.String())
}
