// Package aggregator implements the time-alignment and dispatch engine:
// spec.md §4.5. One Tick call produces at most one combined frame from
// the current state of every peer's TimedQueue.
package aggregator

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sensorgrid/aggregator/internal/codec"
	"github.com/sensorgrid/aggregator/internal/metrics"
	"github.com/sensorgrid/aggregator/internal/publish"
	"github.com/sensorgrid/aggregator/internal/session"
)

// Aggregator is entirely synchronous: Tick must never suspend (spec.md
// §5). It is invoked from the scheduler's single cooperative thread.
type Aggregator struct {
	Table   *session.Table
	Publish *publish.Path

	MaxSkew            time.Duration
	MaxConsecutiveFail int

	// OnAdapterRecovery is invoked when the connected-but-silent
	// heuristic fires (spec.md §4.4). It is the supervisor's
	// responsibility, injected here to keep the aggregator decoupled
	// from connection management.
	OnAdapterRecovery func()

	Metrics *metrics.Registry
	Log     *logrus.Entry

	consecutiveEmpty int

	// now and wallClock are overridable for tests.
	now       func() time.Time
	wallClock func() float64
}

// New constructs an Aggregator with real clocks.
func New(table *session.Table, path *publish.Path, maxSkew time.Duration, maxConsecutiveFail int) *Aggregator {
	return &Aggregator{
		Table:              table,
		Publish:            path,
		MaxSkew:            maxSkew,
		MaxConsecutiveFail: maxConsecutiveFail,
		now:                time.Now,
		wallClock: func() float64 {
			return float64(time.Now().UnixNano()) / 1e9
		},
	}
}

type candidate struct {
	t       time.Time
	payload []byte
}

// Tick runs one aggregation pass: gather the newest fresh payload per
// slot, drop stragglers until within MaxSkew, decode, and publish. It
// returns true if a frame was emitted.
func (a *Aggregator) Tick() bool {
	for {
		newest, allFresh := a.peekAll()
		if !allFresh {
			a.recordEmptyTick()
			return false
		}
		a.consecutiveEmpty = 0
		if a.Metrics != nil {
			a.Metrics.ConsecutiveEmptyTicks.Set(0)
		}

		minIdx, skew := a.skew(newest)
		if skew <= a.MaxSkew {
			return a.emit(newest)
		}

		// Straggler drop: the slot with the smallest newest timestamp
		// has fallen behind. Pop its oldest backlog entry and retry.
		// Terminates because each iteration removes an entry from a
		// finite queue and PeekNewest is monotonically non-decreasing
		// per queue (spec.md §4.5 step 5).
		a.Table.BySlot(minIdx).Queue.PopOldest()
		if a.Metrics != nil {
			a.Metrics.FramesSkippedSkew.Inc()
		}
	}
}

// peekAll returns PeekNewest() for every slot. allFresh is false if any
// slot has no fresh payload.
func (a *Aggregator) peekAll() ([]candidate, bool) {
	newest := make([]candidate, len(a.Table.Sessions))
	for i, s := range a.Table.Sessions {
		t, payload, ok := s.Queue.PeekNewest()
		if !ok {
			return nil, false
		}
		newest[i] = candidate{t: t, payload: payload}
	}
	return newest, true
}

// skew returns the index of the oldest newest-entry and the spread
// between the oldest and newest arrival times across all slots.
func (a *Aggregator) skew(newest []candidate) (minIdx int, spread time.Duration) {
	min, max := newest[0].t, newest[0].t
	minIdx = 0
	for i, c := range newest {
		if c.t.Before(min) {
			min = c.t
			minIdx = i
		}
		if c.t.After(max) {
			max = c.t
		}
	}
	return minIdx, max.Sub(min)
}

// recordEmptyTick increments the consecutive-empty counter and triggers
// adapter recovery once the threshold is exceeded while every session
// reports Connected (spec.md §4.4/§4.5 step 2).
func (a *Aggregator) recordEmptyTick() {
	a.consecutiveEmpty++
	if a.Metrics != nil {
		a.Metrics.FramesSkippedEmpty.Inc()
		a.Metrics.ConsecutiveEmptyTicks.Set(float64(a.consecutiveEmpty))
	}
	if a.consecutiveEmpty > a.MaxConsecutiveFail && a.Table.AllConnected() {
		if a.Log != nil {
			a.Log.WithField("consecutive_empty", a.consecutiveEmpty).
				Warn("all peers connected but silent; triggering adapter recovery")
		}
		if a.Metrics != nil {
			a.Metrics.AdapterRecoveries.Inc()
			a.Metrics.ConsecutiveEmptyTicks.Set(0)
		}
		a.consecutiveEmpty = 0
		if a.OnAdapterRecovery != nil {
			a.OnAdapterRecovery()
		}
	}
}

// emit decodes every slot's selected payload and publishes the combined
// frame. A decode failure drops the whole tick (spec.md §7 Decode error);
// queues are left untouched so the next payload may succeed.
func (a *Aggregator) emit(newest []candidate) bool {
	peers := make(map[string]codec.PeerEntry, len(a.Table.Sessions))
	for i, s := range a.Table.Sessions {
		decoded, err := codec.DecodePeerPayload(newest[i].payload)
		if err != nil {
			if a.Metrics != nil {
				a.Metrics.FramesDroppedDecode.Inc()
			}
			if a.Log != nil {
				a.Log.WithError(err).WithField("peer", s.Spec.ShortName).Warn("dropping frame: peer payload failed to decode")
			}
			return false
		}
		peers[s.Spec.ShortName] = codec.PeerEntry{D: decoded, S: uint8(s.Status())}
	}

	if err := a.Publish.Emit(a.wallClock(), peers); err != nil {
		if a.Log != nil {
			a.Log.WithError(err).Warn("publish failed")
		}
		return false
	}
	return true
}
