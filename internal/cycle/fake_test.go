package cycle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"

	"github.com/R3E-Network/cycle_runner/internal/action"
	"github.com/R3E-Network/cycle_runner/internal/chain"
)

type call struct {
	op     string // "submit" or "await"
	action string
	amount *big.Int
}

// fakeChain confirms everything unless told otherwise. failAt makes the n-th
// call (1-based, counting submits and awaits) return err.
type fakeChain struct {
	mu       sync.Mutex
	calls    []call
	failAt   int
	failErr  error
	panicAt  int
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeChain) record(op, name string, amount *big.Int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: op, action: name, amount: amount})
	n := len(f.calls)
	if n == f.panicAt {
		panic("node exploded")
	}
	if n == f.failAt {
		return n, f.failErr
	}
	return n, nil
}

func (f *fakeChain) Submit(ctx context.Context, act action.Action, amount *big.Int) (*chain.PendingTx, error) {
	cur := f.inFlight.Inc()
	defer f.inFlight.Dec()
	for {
		seen := f.maxSeen.Load()
		if cur <= seen || f.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}

	if f.delay > 0 {
		if err := Sleep(ctx, f.delay); err != nil {
			return nil, err
		}
	}
	n, err := f.record("submit", act.Name, new(big.Int).Set(amount))
	if err != nil {
		return nil, err
	}
	return &chain.PendingTx{
		Hash:   common.BigToHash(big.NewInt(int64(n))),
		Action: act.Name,
		Amount: amount,
	}, nil
}

func (f *fakeChain) Await(ctx context.Context, pending *chain.PendingTx) (*chain.Confirmation, error) {
	if _, err := f.record("await", pending.Action, pending.Amount); err != nil {
		return nil, err
	}
	return &chain.Confirmation{Hash: pending.Hash, BlockNumber: 1}, nil
}

func (f *fakeChain) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeChain) count(op string) int {
	n := 0
	for _, c := range f.snapshot() {
		if c.op == op {
			n++
		}
	}
	return n
}

// recordingSleep returns immediately and remembers requested delays.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (s *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

func (s *recordingSleep) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) observe(ev Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventLog) kinds() []EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EventKind, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Kind
	}
	return out
}

func (e *eventLog) countKind(k EventKind) int {
	n := 0
	for _, kind := range e.kinds() {
		if kind == k {
			n++
		}
	}
	return n
}

func wrapPair() action.Pair {
	return action.Pair{
		Name:       "test",
		Commit:     action.Action{Name: "wrap"},
		Compensate: action.Action{Name: "unwrap"},
	}
}

func mustRange(min, max string, precision int) AmountRange {
	r, err := NewAmountRange(min, max, precision)
	if err != nil {
		panic(fmt.Sprintf("NewAmountRange: %v", err))
	}
	return r
}
