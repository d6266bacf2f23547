package cycle

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the terminal state of a cycle or a unit.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failed"
}

// Outcome is a terminal status with the failure reason, if any.
type Outcome struct {
	Status Status
	Reason error
}

// Success returns the successful outcome.
func Success() Outcome {
	return Outcome{Status: StatusSuccess}
}

// Failed returns a failed outcome carrying reason.
func Failed(reason error) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

func (o Outcome) String() string {
	if o.Reason == nil {
		return o.Status.String()
	}
	return o.Status.String() + ": " + o.Reason.Error()
}

// Record describes one executed cycle. Index is 1-based.
type Record struct {
	Index        int
	Amount       *big.Int
	Started      time.Time
	Finished     time.Time
	CommitTx     common.Hash
	CompensateTx common.Hash
	Outcome      Outcome
}

// Result is what a loop run produced.
type Result struct {
	Records   []Record
	// Completed counts successful cycles.
	Completed int
	// Skipped counts periodic fires dropped because a cycle was still running.
	Skipped   int
	Outcome   Outcome
}
