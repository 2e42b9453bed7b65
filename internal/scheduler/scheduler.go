// Package scheduler implements the top-level cooperative loop (spec.md
// §5/§2 item 7): it ticks the aggregator at a fixed cadence and drives the
// connection supervisor whenever it isn't already mid-scan. The
// aggregator tick is always synchronous (spec.md: "must not suspend");
// the supervisor's scan/connect suspension points run on their own
// goroutine so a slow scan never stalls the aggregation cadence — the
// two share state only through the mutex-protected session table and
// per-peer queues.
package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sensorgrid/aggregator/internal/aggregator"
	"github.com/sensorgrid/aggregator/internal/supervisor"
)

// Scheduler ties the aggregator and supervisor together on independent
// cadences.
type Scheduler struct {
	Aggregator *aggregator.Aggregator
	Supervisor *supervisor.Supervisor

	MainLoopInterval  time.Duration
	ScanCheckInterval time.Duration

	Log *logrus.Entry
}

// Run blocks until ctx is cancelled, driving both loops. At shutdown
// every session with a live handle is disconnected, best-effort
// (spec.md §5).
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runSupervisorLoop(ctx)
	}()

	s.runAggregatorLoop(ctx)
	<-done
	s.shutdown()
}

// runAggregatorLoop fires Aggregator.Tick on MainLoopInterval. Tick is
// synchronous and never suspends, so this loop stays a tight ticker.
func (s *Scheduler) runAggregatorLoop(ctx context.Context) {
	ticker := time.NewTicker(s.MainLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Aggregator.Tick()
		}
	}
}

// runSupervisorLoop calls Supervisor.Tick on ScanCheckInterval.
// Supervisor.Tick itself no-ops if a scan is already in flight or every
// session is already Connected, so this is safe to call unconditionally
// on a fixed cadence (spec.md §4.4: "invoked by the scheduler whenever no
// scan is in progress").
func (s *Scheduler) runSupervisorLoop(ctx context.Context) {
	ticker := time.NewTicker(s.ScanCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Supervisor.IsScanning() {
				continue
			}
			s.Supervisor.Tick(ctx)
		}
	}
}

// shutdown best-effort disconnects every live session handle.
func (s *Scheduler) shutdown() {
	for _, sess := range s.Aggregator.Table.Sessions {
		h := sess.Handle()
		if h == nil {
			continue
		}
		if err := s.Supervisor.Central.Disconnect(h); err != nil && s.Log != nil {
			s.Log.WithError(err).WithField("address", sess.Spec.Address).Warn("shutdown disconnect failed")
		}
	}
}
