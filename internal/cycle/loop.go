package cycle

import (
	"context"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/cycle_runner/internal/action"
	"github.com/R3E-Network/cycle_runner/internal/chain"
)

// Chain submits an action and waits for its confirmation.
type Chain interface {
	Submit(ctx context.Context, act action.Action, amount *big.Int) (*chain.PendingTx, error)
	Await(ctx context.Context, pending *chain.PendingTx) (*chain.Confirmation, error)
}

// EventKind identifies a loop progress event.
type EventKind int

const (
	EventCycleStarted EventKind = iota
	EventLegSent
	EventLegConfirmed
	EventCycleCompleted
	EventCycleFailed
	EventWaiting
	EventFireSkipped
)

func (k EventKind) String() string {
	switch k {
	case EventCycleStarted:
		return "cycle_started"
	case EventLegSent:
		return "leg_sent"
	case EventLegConfirmed:
		return "leg_confirmed"
	case EventCycleCompleted:
		return "cycle_completed"
	case EventCycleFailed:
		return "cycle_failed"
	case EventWaiting:
		return "waiting"
	case EventFireSkipped:
		return "fire_skipped"
	default:
		return "unknown"
	}
}

// Event is a progress notification from the loop. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind   EventKind
	Cycle  int
	Leg    string
	Amount *big.Int
	Tx     common.Hash
	Block  uint64
	Delay  time.Duration
	Err    error
	At     time.Time
}

// Observer receives loop events. In sequential mode it is called on the loop's
// goroutine; in periodic mode skipped fires are reported from the scheduler
// goroutine while a cycle may still be emitting, so it must be safe for
// concurrent use. It must not block.
type Observer func(Event)

// SleepFunc blocks for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Config wires a Loop.
type Config struct {
	Pair    action.Pair
	Chain   Chain
	Plan    Plan
	Amounts AmountRange
	Delays  DelayWindow
	// Rand must not be shared with another loop.
	Rand     *rand.Rand
	Observer Observer
	Sleep    SleepFunc
}

// Loop runs a unit's cycles. It is not safe for concurrent use.
type Loop struct {
	pair    action.Pair
	chain   Chain
	plan    Plan
	amounts AmountRange
	delays  DelayWindow
	rng     *rand.Rand
	observe Observer
	sleep   SleepFunc
}

// New returns a Loop for cfg.
func New(cfg Config) *Loop {
	l := &Loop{
		pair:    cfg.Pair,
		chain:   cfg.Chain,
		plan:    cfg.Plan,
		amounts: cfg.Amounts,
		delays:  cfg.Delays,
		rng:     cfg.Rand,
		observe: cfg.Observer,
		sleep:   cfg.Sleep,
	}
	if l.rng == nil {
		l.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if l.observe == nil {
		l.observe = func(Event) {}
	}
	if l.sleep == nil {
		l.sleep = Sleep
	}
	return l
}

// Run executes the plan. In sequential mode cycles run back to back with a
// random delay between them; in periodic mode they start on a fixed schedule.
// The first failure ends the run.
func (l *Loop) Run(ctx context.Context) Result {
	if l.plan.Periodic() {
		return l.runPeriodic(ctx)
	}
	return l.runSequential(ctx)
}

func (l *Loop) runSequential(ctx context.Context) Result {
	res := Result{Records: make([]Record, 0, l.plan.Repetitions)}

	for i := 1; i <= l.plan.Repetitions; i++ {
		rec := l.RunCycle(ctx, i)
		res.Records = append(res.Records, rec)
		if !rec.Outcome.OK() {
			res.Outcome = rec.Outcome
			return res
		}
		res.Completed++

		if i == l.plan.Repetitions {
			break
		}
		if err := l.pause(ctx, i); err != nil {
			res.Outcome = Failed(err)
			return res
		}
	}

	res.Outcome = Success()
	return res
}

// RunCycle executes one commit/compensate pair. The compensating action is
// submitted only after the commit is confirmed.
func (l *Loop) RunCycle(ctx context.Context, index int) Record {
	rec := Record{
		Index:   index,
		Amount:  l.amounts.Draw(l.rng),
		Started: time.Now(),
	}
	l.emit(Event{Kind: EventCycleStarted, Cycle: index, Amount: rec.Amount})

	fail := func(err error) Record {
		rec.Finished = time.Now()
		rec.Outcome = Failed(err)
		l.emit(Event{Kind: EventCycleFailed, Cycle: index, Err: err})
		return rec
	}

	hash, err := l.leg(ctx, index, l.pair.Commit, rec.Amount)
	if err != nil {
		return fail(err)
	}
	rec.CommitTx = hash

	if l.pair.PauseBetweenLegs {
		if err := l.pause(ctx, index); err != nil {
			return fail(err)
		}
	}

	hash, err = l.leg(ctx, index, l.pair.Compensate, l.pair.CompensateAmount(rec.Amount))
	if err != nil {
		return fail(err)
	}
	rec.CompensateTx = hash

	rec.Finished = time.Now()
	rec.Outcome = Success()
	l.emit(Event{Kind: EventCycleCompleted, Cycle: index, Amount: rec.Amount})
	return rec
}

func (l *Loop) leg(ctx context.Context, index int, act action.Action, amount *big.Int) (common.Hash, error) {
	pending, err := l.chain.Submit(ctx, act, amount)
	if err != nil {
		return common.Hash{}, err
	}
	l.emit(Event{Kind: EventLegSent, Cycle: index, Leg: act.Name, Amount: amount, Tx: pending.Hash})

	conf, err := l.chain.Await(ctx, pending)
	if err != nil {
		return pending.Hash, err
	}
	l.emit(Event{Kind: EventLegConfirmed, Cycle: index, Leg: act.Name, Tx: conf.Hash, Block: conf.BlockNumber})
	return pending.Hash, nil
}

func (l *Loop) pause(ctx context.Context, index int) error {
	d := l.delays.Draw(l.rng)
	l.emit(Event{Kind: EventWaiting, Cycle: index, Delay: d})
	return l.sleep(ctx, d)
}

func (l *Loop) emit(e Event) {
	e.At = time.Now()
	l.observe(e)
}
