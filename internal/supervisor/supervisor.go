// Package supervisor spawns one execution unit per account and waits for all
// of them to reach a terminal state.
//
// Units run in their own goroutines and report to the supervisor over a
// one-way, non-blocking event channel. A unit that fails or panics is recorded
// and never affects its siblings.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/R3E-Network/cycle_runner/internal/accounts"
	"github.com/R3E-Network/cycle_runner/internal/action"
	"github.com/R3E-Network/cycle_runner/internal/cycle"
	"github.com/R3E-Network/cycle_runner/internal/errors"
	"github.com/R3E-Network/cycle_runner/internal/metrics"
	"github.com/R3E-Network/cycle_runner/internal/unit"
)

// DefaultEventBuffer is the size of the unit event channel.
const DefaultEventBuffer = 1024

// Config wires a Supervisor. Everything in it is read-only once Run starts.
type Config struct {
	Registry accounts.Registry
	Pair     action.Pair
	Plan     cycle.Plan
	Amounts  cycle.AmountRange
	Delays   cycle.DelayWindow
	Dial     unit.Dialer

	Logger      zerolog.Logger
	Metrics     metrics.MetricsCollector
	ExplorerURL string
	EventBuffer int

	// Sleep replaces the inter-cycle sleep, for tests.
	Sleep cycle.SleepFunc
}

// Supervisor owns the registry and plan for the lifetime of a run.
type Supervisor struct {
	cfg Config
	log zerolog.Logger
}

// New validates cfg and returns a Supervisor.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Registry == nil {
		return nil, errors.Configurationf("new supervisor", "registry required")
	}
	if cfg.Dial == nil {
		return nil, errors.Configurationf("new supervisor", "dialer required")
	}
	if cfg.Plan.Repetitions < 1 {
		return nil, errors.Configurationf("new supervisor", "plan needs at least one repetition, got %d", cfg.Plan.Repetitions)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoOpCollector()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	return &Supervisor{cfg: cfg, log: cfg.Logger}, nil
}

// Handle refers to a spawned unit.
type Handle struct {
	Unit   *unit.Unit
	done   chan struct{}
	result unit.Result
}

// Done is closed once the unit is terminal.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the unit is terminal and returns its result.
func (h *Handle) Wait() unit.Result {
	<-h.done
	return h.result
}

// Run checks the registry, spawns every unit and returns once all of them are
// terminal. A configuration error is returned before anything is spawned; unit
// failures are reported in the Report, never as an error.
func (s *Supervisor) Run(ctx context.Context) (*Report, error) {
	if err := accounts.Check(s.cfg.Registry); err != nil {
		return nil, err
	}

	report := &Report{RunID: uuid.New().String(), Started: time.Now()}
	log := s.log.With().Str("run_id", report.RunID).Logger()

	accts := s.cfg.Registry.Accounts()
	log.Info().
		Int("units", len(accts)).
		Int("proxies", len(s.cfg.Registry.Proxies())).
		Str("variant", s.cfg.Pair.Name).
		Int("cycles", s.cfg.Plan.Repetitions).
		Dur("interval", s.cfg.Plan.Interval).
		Msg("spawning units")

	reporter := unit.NewReporter(s.cfg.EventBuffer)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		s.consume(reporter.Events(), log)
	}()

	handles := make([]*Handle, 0, len(accts))
	for i, acct := range accts {
		handles = append(handles, s.spawn(ctx, acct, s.cfg.Registry.ProxyFor(i), s.cfg.Plan, reporter, log))
	}

	for _, h := range handles {
		res := h.Wait()
		report.Units = append(report.Units, res)
		log.Info().
			Int("unit", res.Index).
			Str("outcome", res.Outcome.Status.String()).
			Int("finished", len(report.Units)).
			Int("total", len(handles)).
			Msg("unit terminal")
	}

	reporter.Close()
	<-consumed

	report.DroppedEvents = reporter.Dropped()
	s.cfg.Metrics.RecordEventsDropped(report.DroppedEvents)
	report.Finished = time.Now()
	sort.Slice(report.Units, func(i, j int) bool { return report.Units[i].Index < report.Units[j].Index })

	ev := log.Info()
	if report.ExitCode() != ExitOK {
		ev = log.Warn()
	}
	ev.Int("succeeded", report.Succeeded()).
		Int("failed", len(report.Failed())).
		Int64("dropped_events", report.DroppedEvents).
		Dur("elapsed", report.Finished.Sub(report.Started)).
		Msg("all units finished")

	return report, nil
}

// spawn starts one unit in its own goroutine. The goroutine recovers from any
// panic so the supervisor and sibling units keep running.
func (s *Supervisor) spawn(ctx context.Context, acct accounts.Account, proxy accounts.Binding, plan cycle.Plan, reporter *unit.Reporter, log zerolog.Logger) *Handle {
	u := unit.New(unit.Config{
		Account:     acct,
		Proxy:       proxy,
		Pair:        s.cfg.Pair,
		Plan:        plan,
		Amounts:     s.cfg.Amounts,
		Delays:      s.cfg.Delays,
		Dial:        s.cfg.Dial,
		Reporter:    reporter,
		Logger:      log,
		ExplorerURL: s.cfg.ExplorerURL,
		Sleep:       s.cfg.Sleep,
	})
	h := &Handle{Unit: u, done: make(chan struct{})}

	s.cfg.Metrics.RecordUnitStarted()
	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("unit %d crashed: %v", acct.Index, r)
				log.Error().Err(err).Bytes("stack", debug.Stack()).Msg("recovered unit panic")
				h.result = unit.Result{
					Index:    acct.Index,
					Address:  acct.Address,
					Proxy:    proxy.String(),
					Outcome:  cycle.Failed(err),
					Finished: time.Now(),
				}
			}
			s.cfg.Metrics.RecordUnitFinished(h.result.Outcome.Status.String())
		}()
		h.result = u.Run(ctx)
	}()
	return h
}

// consume drains unit events until the channel is closed. It is the only
// reader, so the per-unit bookkeeping needs no lock.
func (s *Supervisor) consume(events <-chan unit.Event, log zerolog.Logger) {
	started := make(map[int]time.Time)
	for e := range events {
		switch e.Kind {
		case unit.KindStarted:
			log.Debug().Int("unit", e.Unit).Str("address", e.Address.Hex()).Msg("unit started")
		case unit.KindFinished:
			log.Debug().Int("unit", e.Unit).Str("outcome", e.Outcome.String()).Msg("unit finished")
		case unit.KindProgress:
			s.progress(e, started)
		}
	}
}

func (s *Supervisor) progress(e unit.Event, started map[int]time.Time) {
	c := e.Cycle
	switch c.Kind {
	case cycle.EventCycleStarted:
		started[e.Unit] = c.At
	case cycle.EventLegSent:
		s.cfg.Metrics.RecordTx(c.Leg, "sent")
	case cycle.EventLegConfirmed:
		s.cfg.Metrics.RecordTx(c.Leg, "confirmed")
	case cycle.EventCycleCompleted, cycle.EventCycleFailed:
		status := cycle.StatusSuccess
		if c.Kind == cycle.EventCycleFailed {
			status = cycle.StatusFailed
		}
		var d time.Duration
		if at, ok := started[e.Unit]; ok {
			d = c.At.Sub(at)
			delete(started, e.Unit)
		}
		s.cfg.Metrics.RecordCycle(s.cfg.Pair.Name, status.String(), d)
	case cycle.EventFireSkipped:
		s.cfg.Metrics.RecordFireSkipped()
	}
}
