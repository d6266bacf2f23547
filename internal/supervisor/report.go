package supervisor

import (
	"time"

	"github.com/R3E-Network/cycle_runner/internal/errors"
	"github.com/R3E-Network/cycle_runner/internal/unit"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitUnitFailed    = 1
	ExitConfiguration = 2
)

// Report is the outcome of a run. Units are ordered by account index.
type Report struct {
	RunID         string
	Started       time.Time
	Finished      time.Time
	Units         []unit.Result
	DroppedEvents int64
}

// Succeeded counts units that completed every cycle.
func (r *Report) Succeeded() int {
	n := 0
	for _, u := range r.Units {
		if u.Outcome.OK() {
			n++
		}
	}
	return n
}

// Failed returns the units that ended Failed.
func (r *Report) Failed() []unit.Result {
	var out []unit.Result
	for _, u := range r.Units {
		if !u.Outcome.OK() {
			out = append(out, u)
		}
	}
	return out
}

// ExitCode is ExitOK when every unit succeeded and ExitUnitFailed otherwise.
func (r *Report) ExitCode() int {
	if len(r.Failed()) > 0 {
		return ExitUnitFailed
	}
	return ExitOK
}

// ExitCodeFor maps the result of Run to a process exit code.
func ExitCodeFor(report *Report, err error) int {
	switch {
	case err == nil && report != nil:
		return report.ExitCode()
	case errors.IsKind(err, errors.KindConfiguration):
		return ExitConfiguration
	default:
		return ExitUnitFailed
	}
}
