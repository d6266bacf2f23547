package unit

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"

	"github.com/R3E-Network/cycle_runner/internal/cycle"
)

// Kind classifies a unit event.
type Kind int

const (
	KindStarted Kind = iota
	KindProgress
	KindFinished
)

func (k Kind) String() string {
	switch k {
	case KindStarted:
		return "started"
	case KindProgress:
		return "progress"
	case KindFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification sent from a unit to the supervisor.
type Event struct {
	Unit    int
	Address common.Address
	Kind    Kind
	State   State
	// Cycle is set for KindProgress.
	Cycle cycle.Event
	// Outcome is set for KindFinished.
	Outcome cycle.Outcome
	At      time.Time
}

// Reporter carries events from units to a single consumer. Send never blocks:
// when the buffer is full the event is dropped and counted.
type Reporter struct {
	ch      chan Event
	dropped atomic.Int64
	closed  atomic.Bool
}

// NewReporter returns a Reporter buffering up to size events.
func NewReporter(size int) *Reporter {
	if size < 0 {
		size = 0
	}
	return &Reporter{ch: make(chan Event, size)}
}

// Send delivers e if there is room and reports whether it did.
func (r *Reporter) Send(e Event) bool {
	if r == nil {
		return false
	}
	if r.closed.Load() {
		r.dropped.Inc()
		return false
	}
	select {
	case r.ch <- e:
		return true
	default:
		r.dropped.Inc()
		return false
	}
}

// Events is the receive side.
func (r *Reporter) Events() <-chan Event {
	return r.ch
}

// Dropped returns how many events were discarded.
func (r *Reporter) Dropped() int64 {
	return r.dropped.Load()
}

// Close ends the event stream. It must be called only after every sender has returned.
func (r *Reporter) Close() {
	if r.closed.CompareAndSwap(false, true) {
		close(r.ch)
	}
}
