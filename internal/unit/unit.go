// Package unit runs the cycle loop of a single account.
//
// A unit exclusively owns its account, its proxy binding and the chain client
// dialed through that proxy. Nothing a unit does can fail another unit.
package unit

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/R3E-Network/cycle_runner/internal/accounts"
	"github.com/R3E-Network/cycle_runner/internal/action"
	"github.com/R3E-Network/cycle_runner/internal/cycle"
)

// Chain is a dialed per-unit client.
type Chain interface {
	cycle.Chain
	Close()
}

// Dialer opens the chain client for an account through its proxy.
type Dialer func(ctx context.Context, account accounts.Account, proxy accounts.Binding) (Chain, error)

// Config wires a Unit.
type Config struct {
	Account  accounts.Account
	Proxy    accounts.Binding
	Pair     action.Pair
	Plan     cycle.Plan
	Amounts  cycle.AmountRange
	Delays   cycle.DelayWindow
	Dial     Dialer
	Reporter *Reporter
	Logger   zerolog.Logger
	// ExplorerURL is prefixed to transaction hashes in log lines.
	ExplorerURL string
	// Rand seeds amount and delay draws. A unit-private source is created when nil.
	Rand  *rand.Rand
	Sleep cycle.SleepFunc
}

// Result is the terminal report of a unit.
type Result struct {
	Index     int
	Address   common.Address
	Proxy     string
	Outcome   cycle.Outcome
	Completed int
	Skipped   int
	Records   []cycle.Record
	Started   time.Time
	Finished  time.Time
}

// Unit is one account's execution context.
type Unit struct {
	cfg   Config
	log   zerolog.Logger
	state atomic.Int32
	cycle atomic.Int64
}

// New returns an idle unit.
func New(cfg Config) *Unit {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.Account.Index)))
	}
	return &Unit{
		cfg: cfg,
		log: cfg.Logger.With().
			Int("unit", cfg.Account.Index).
			Str("address", cfg.Account.Address.Hex()).
			Str("proxy", cfg.Proxy.String()).
			Logger(),
	}
}

// Index returns the account index the unit runs for.
func (u *Unit) Index() int {
	return u.cfg.Account.Index
}

// State returns the current lifecycle state.
func (u *Unit) State() State {
	return State(u.state.Load())
}

// Cycle returns the 1-based index of the current or last cycle, 0 before the first.
func (u *Unit) Cycle() int {
	return int(u.cycle.Load())
}

// Run drives the unit to a terminal state. It never panics; a panic inside
// the unit becomes a Failed outcome.
func (u *Unit) Run(ctx context.Context) (res Result) {
	res = Result{
		Index:   u.cfg.Account.Index,
		Address: u.cfg.Account.Address,
		Proxy:   u.cfg.Proxy.String(),
		Started: time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("unit %d panicked: %v", res.Index, r)
			u.log.Error().Err(err).Bytes("stack", debug.Stack()).Msg("unit crashed")
			res.Outcome = cycle.Failed(err)
		}
		res.Finished = time.Now()
		u.finish(res.Outcome)
	}()

	u.log.Info().Str("variant", u.cfg.Pair.Name).Int("cycles", u.cfg.Plan.Repetitions).
		Dur("interval", u.cfg.Plan.Interval).Msg("starting unit")
	u.send(Event{Kind: KindStarted})

	client, err := u.cfg.Dial(ctx, u.cfg.Account, u.cfg.Proxy)
	if err != nil {
		res.Outcome = cycle.Failed(err)
		return res
	}
	defer client.Close()

	loop := cycle.New(cycle.Config{
		Pair:     u.cfg.Pair,
		Chain:    client,
		Plan:     u.cfg.Plan,
		Amounts:  u.cfg.Amounts,
		Delays:   u.cfg.Delays,
		Rand:     u.cfg.Rand,
		Observer: u.observe,
		Sleep:    u.cfg.Sleep,
	})
	out := loop.Run(ctx)

	res.Outcome = out.Outcome
	res.Completed = out.Completed
	res.Skipped = out.Skipped
	res.Records = out.Records
	return res
}

func (u *Unit) finish(o cycle.Outcome) {
	state := StateCompleted
	if !o.OK() {
		state = StateFailed
	}
	u.state.Store(int32(state))

	if o.OK() {
		u.log.Info().Int("cycles", u.Cycle()).Msg("all cycles completed")
	} else {
		u.log.Error().Err(o.Reason).Int("cycle", u.Cycle()).Msg("unit failed")
	}
	u.send(Event{Kind: KindFinished, Outcome: o})
}

// observe runs on the loop's goroutine (or a scheduler goroutine in periodic mode).
func (u *Unit) observe(e cycle.Event) {
	switch e.Kind {
	case cycle.EventCycleStarted:
		u.cycle.Store(int64(e.Cycle))
		u.state.Store(int32(StateRunning))
		u.log.Info().Int("cycle", e.Cycle).Str("amount", cycle.FormatEther(e.Amount)).Msg("cycle started")
	case cycle.EventLegSent:
		u.state.Store(int32(StateRunning))
		u.log.Info().Int("cycle", e.Cycle).Str("action", e.Leg).Str("amount", cycle.FormatEther(e.Amount)).
			Str("tx", u.cfg.ExplorerURL+e.Tx.Hex()).Msg("transaction sent")
	case cycle.EventLegConfirmed:
		u.log.Info().Int("cycle", e.Cycle).Str("action", e.Leg).Str("tx", e.Tx.Hex()).
			Uint64("block", e.Block).Msg("transaction confirmed")
	case cycle.EventCycleCompleted:
		u.log.Info().Int("cycle", e.Cycle).Msg("cycle completed")
	case cycle.EventCycleFailed:
		u.log.Warn().Int("cycle", e.Cycle).Err(e.Err).Msg("cycle failed")
	case cycle.EventWaiting:
		u.state.Store(int32(StateWaiting))
		u.log.Info().Int("cycle", e.Cycle).Dur("delay", e.Delay).Msg("waiting")
	case cycle.EventFireSkipped:
		u.log.Warn().Int("cycle", e.Cycle).Err(e.Err).Msg("scheduled cycle skipped")
	}
	u.send(Event{Kind: KindProgress, Cycle: e})
}

func (u *Unit) send(e Event) {
	e.Unit = u.cfg.Account.Index
	e.Address = u.cfg.Account.Address
	e.State = u.State()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	u.cfg.Reporter.Send(e)
}
