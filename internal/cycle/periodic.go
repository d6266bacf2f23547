package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
)

// fixedSchedule fires exactly d after the previous activation. cron.Every
// truncates to whole seconds and aligns to the second boundary, which would
// shorten both the first delay and every period.
type fixedSchedule time.Duration

func (s fixedSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(s))
}

func every(d time.Duration) cron.Schedule {
	return fixedSchedule(d)
}

// SkipIfBusy returns a cron.JobWrapper that drops a fire while the previous
// run of the job is still executing. onSkip is called for each dropped fire.
func SkipIfBusy(onSkip func()) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		var busy atomic.Bool
		return cron.FuncJob(func() {
			if !busy.CompareAndSwap(false, true) {
				onSkip()
				return
			}
			defer busy.Store(false)
			j.Run()
		})
	}
}

func (l *Loop) runPeriodic(ctx context.Context) Result {
	var (
		res      = Result{Records: make([]Record, 0, l.plan.Repetitions)}
		next     atomic.Int64
		finished atomic.Bool
		skipped  atomic.Int64
		done     = make(chan struct{})
		once     sync.Once
	)
	finish := func(o Outcome) {
		once.Do(func() {
			finished.Store(true)
			res.Outcome = o
			close(done)
		})
	}

	onSkip := func() {
		n := skipped.Inc()
		l.emit(Event{Kind: EventFireSkipped, Cycle: int(next.Load()), Err: fmt.Errorf("cycle still running, %d fires skipped", n)})
	}

	job := cron.FuncJob(func() {
		if finished.Load() {
			return
		}
		index := int(next.Load())
		rec := l.safeCycle(ctx, index)
		res.Records = append(res.Records, rec)
		if !rec.Outcome.OK() {
			finish(rec.Outcome)
			return
		}
		res.Completed++
		if index == l.plan.Repetitions {
			finish(Success())
			return
		}
		l.emit(Event{Kind: EventWaiting, Cycle: index, Delay: l.plan.Interval})
		next.Inc()
	})

	next.Store(1)
	c := cron.New(cron.WithChain(SkipIfBusy(onSkip)))
	c.Schedule(every(l.plan.Interval), job)
	l.emit(Event{Kind: EventWaiting, Delay: l.plan.Interval})
	c.Start()

	select {
	case <-done:
	case <-ctx.Done():
	}
	// Stop waits for a running cycle, which ends early once ctx is done.
	<-c.Stop().Done()
	finish(Failed(ctx.Err()))

	res.Skipped = int(skipped.Load())
	return res
}

// safeCycle runs a cycle on a cron goroutine, turning a panic into a failed record.
func (l *Loop) safeCycle(ctx context.Context, index int) (rec Record) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in cycle %d: %v", index, r)
			rec = Record{Index: index, Finished: time.Now(), Outcome: Failed(err)}
			l.emit(Event{Kind: EventCycleFailed, Cycle: index, Err: err})
		}
	}()
	return l.RunCycle(ctx, index)
}
