// Package supervisor implements the connection supervisor state machine:
// spec.md §4.4. It keeps as many roster sessions Connected as possible,
// enforces the at-most-one-scan invariant, and drives the adapter-recovery
// path when the aggregator reports sustained "connected but silent".
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sensorgrid/aggregator/internal/backend"
	"github.com/sensorgrid/aggregator/internal/metrics"
	"github.com/sensorgrid/aggregator/internal/session"
)

// Supervisor owns the reconnect loop. Its Tick is invoked by the
// scheduler whenever no scan is currently in progress (spec.md §4.4
// step 1, "invoked by the scheduler whenever no scan is in progress").
type Supervisor struct {
	Table   *session.Table
	Central backend.CentralBackend

	CharacteristicUUID string

	ScanTimeout        time.Duration
	ScanCheckInterval  time.Duration
	ConnectionTimeout  time.Duration
	ConnectSettleDelay time.Duration
	ReconnectionDelay  time.Duration

	Metrics *metrics.Registry
	Log     *logrus.Entry

	scanning atomic.Bool
	mu       sync.Mutex // serializes Tick invocations; connect is already serial within one Tick
}

// New wires a Supervisor and registers it for backend disconnect
// notifications.
func New(table *session.Table, central backend.CentralBackend, characteristicUUID string) *Supervisor {
	s := &Supervisor{
		Table:              table,
		Central:            central,
		CharacteristicUUID: characteristicUUID,
		ScanTimeout:        1500 * time.Millisecond,
		ScanCheckInterval:  500 * time.Millisecond,
		ConnectionTimeout:  8 * time.Second,
		ConnectSettleDelay: 300 * time.Millisecond,
		ReconnectionDelay:  time.Second,
	}
	central.SetOnDisconnect(s.handleDisconnect)
	return s
}

// IsScanning reports whether a scan is currently in flight. Exported so
// the scheduler can decide whether to invoke Tick at all (spec.md §4.4:
// "invoked by the scheduler whenever no scan is in progress").
func (s *Supervisor) IsScanning() bool { return s.scanning.Load() }

// Tick runs one supervisor pass. It is a no-op if every session is
// already Connected, or if a scan is already in progress (the
// at-most-one-scan invariant, spec.md §4.4).
func (s *Supervisor) Tick(ctx context.Context) {
	if !s.scanning.CompareAndSwap(false, true) {
		return // a scan is already in flight; short-circuit per the invariant.
	}
	defer s.scanning.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()

	missing := s.Table.NotConnected()
	if len(missing) == 0 {
		return
	}

	addrs := make([]string, 0, len(missing))
	for _, i := range missing {
		sess := s.Table.BySlot(i)
		if st := sess.Status(); st == session.Disconnected || st == session.Unavailable {
			sess.SetStatus(session.Reconnecting)
		}
		addrs = append(addrs, sess.Spec.Address)
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.ScanTimeout)
	defer cancel()

	found, err := s.Central.Scan(scanCtx, addrs, s.ScanTimeout)
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).Warn("scan failed")
		}
		return
	}

	for _, dev := range found {
		sess, _, ok := s.Table.ByAddress(dev.Address)
		if !ok {
			continue
		}
		time.Sleep(s.ConnectSettleDelay)
		s.connectOne(ctx, sess, dev)
	}
}

// connectOne attempts a single bounded connect + subscribe. On success
// the session becomes Connected; on failure it is left as-is so the next
// supervisor tick retries it (spec.md §4.4 step 5), after waiting
// ReconnectionDelay (or until ctx is cancelled).
func (s *Supervisor) connectOne(ctx context.Context, sess *session.Session, dev backend.DiscoveredDevice) {
	connected := false
	defer func() {
		if !connected {
			select {
			case <-ctx.Done():
			case <-time.After(s.ReconnectionDelay):
			}
		}
	}()

	connectCtx, cancel := context.WithTimeout(ctx, s.ConnectionTimeout)
	defer cancel()

	h, err := s.Central.Connect(connectCtx, dev, s.ConnectionTimeout)
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).WithField("address", dev.Address).Warn("connect failed")
		}
		return
	}

	if err := s.Central.StartNotify(h, s.CharacteristicUUID, func(data []byte) {
		sess.Queue.Put(data)
	}); err != nil {
		if s.Log != nil {
			s.Log.WithError(err).WithField("address", dev.Address).Warn("start-notify failed; disconnecting partial handle")
		}
		_ = s.Central.Disconnect(h)
		return
	}

	connected = true
	sess.SetHandle(h)
	sess.SetStatus(session.Connected)
	if s.Metrics != nil {
		s.Metrics.PeersConnected.Set(float64(len(s.Table.Sessions) - len(s.Table.NotConnected())))
	}
}

// handleDisconnect is registered with the central backend and fires
// whenever a link drops independently of an explicit Disconnect call
// (spec.md §4.2/§4.4).
func (s *Supervisor) handleDisconnect(h backend.Handle) {
	sess, _, ok := s.Table.ByAddress(h.Address())
	if !ok {
		return
	}
	sess.SetStatus(session.Disconnected)
	if s.Metrics != nil {
		s.Metrics.PeersConnected.Set(float64(len(s.Table.Sessions) - len(s.Table.NotConnected())))
	}
	if s.Log != nil {
		s.Log.WithField("address", h.Address()).Info("peer disconnected")
	}
}

// RecoverAdapter forcibly disconnects every connected session and power-
// cycles the local BLE radio. Registered as the aggregator's
// OnAdapterRecovery hook (spec.md §4.4, "connected but silent" pathology).
func (s *Supervisor) RecoverAdapter(ctx context.Context) {
	for _, sess := range s.Table.Sessions {
		if h := sess.Handle(); h != nil {
			// Disconnect is idempotent (spec.md §9): safe even if the
			// backend's own disconnect callback races with this call.
			_ = s.Central.Disconnect(h)
		}
		sess.SetStatus(session.Disconnected)
		sess.SetHandle(nil)
	}
	if s.Metrics != nil {
		s.Metrics.PeersConnected.Set(0)
	}
	if err := s.Central.RestartAdapter(ctx); err != nil && s.Log != nil {
		s.Log.WithError(err).Error("adapter restart failed")
	}
}
