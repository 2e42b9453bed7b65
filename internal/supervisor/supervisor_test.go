package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sensorgrid/aggregator/internal/backend"
	"github.com/sensorgrid/aggregator/internal/config"
	"github.com/sensorgrid/aggregator/internal/queue"
	"github.com/sensorgrid/aggregator/internal/session"
)

type fakeHandle struct{ addr string }

func (h *fakeHandle) Address() string { return h.addr }

type fakeCentral struct {
	mu            sync.Mutex
	scanResults   []backend.DiscoveredDevice
	scanErr       error
	connectErr    map[string]error
	scanCalls     int
	disconnectCnt int
	restarted     bool
	onDisconnect  func(backend.Handle)
}

func (f *fakeCentral) Scan(ctx context.Context, match []string, timeout time.Duration) ([]backend.DiscoveredDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanCalls++
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.scanResults, nil
}

func (f *fakeCentral) Connect(ctx context.Context, dev backend.DiscoveredDevice, timeout time.Duration) (backend.Handle, error) {
	if err, ok := f.connectErr[dev.Address]; ok {
		return nil, err
	}
	return &fakeHandle{addr: dev.Address}, nil
}

func (f *fakeCentral) StartNotify(h backend.Handle, charUUID string, onData func([]byte)) error {
	return nil
}

func (f *fakeCentral) Disconnect(h backend.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCnt++
	return nil
}

func (f *fakeCentral) SetOnDisconnect(fn func(backend.Handle)) { f.onDisconnect = fn }

func (f *fakeCentral) RestartAdapter(ctx context.Context) error {
	f.restarted = true
	return nil
}

func newTable() *session.Table {
	roster := config.Roster{
		{Address: "08:D1:F9:DF:D7:BA", DisplayName: "RIGHT_ARM", ShortName: "RA"},
		{Address: "08:D1:F9:C7:14:DE", DisplayName: "LEFT_ARM", ShortName: "LA"},
	}
	return session.NewTable(roster, func() *queue.TimedQueue { return queue.New(300 * time.Millisecond) })
}

func TestTickConnectsMissingPeers(t *testing.T) {
	table := newTable()
	central := &fakeCentral{
		scanResults: []backend.DiscoveredDevice{
			{Address: "08:D1:F9:DF:D7:BA"},
			{Address: "08:D1:F9:C7:14:DE"},
		},
	}
	sup := New(table, central, "beb5483e-36e1-4688-b7f5-ea07361b26a8")
	sup.ConnectSettleDelay = time.Millisecond

	sup.Tick(context.Background())

	if !table.AllConnected() {
		t.Fatal("expected all sessions Connected after a successful Tick")
	}
}

func TestTickLeavesFailedConnectForRetry(t *testing.T) {
	table := newTable()
	central := &fakeCentral{
		scanResults: []backend.DiscoveredDevice{
			{Address: "08:D1:F9:DF:D7:BA"},
			{Address: "08:D1:F9:C7:14:DE"},
		},
		connectErr: map[string]error{"08:D1:F9:C7:14:DE": backend.ErrTimeout},
	}
	sup := New(table, central, "char-uuid")
	sup.ConnectSettleDelay = time.Millisecond

	sup.Tick(context.Background())

	s0 := table.BySlot(0)
	s1 := table.BySlot(1)
	if s0.Status() != session.Connected {
		t.Errorf("slot 0 status = %v, want Connected", s0.Status())
	}
	if s1.Status() == session.Connected {
		t.Errorf("slot 1 status = %v, want not Connected after failed connect", s1.Status())
	}
}

func TestHandleDisconnectMarksSession(t *testing.T) {
	table := newTable()
	central := &fakeCentral{}
	sup := New(table, central, "char-uuid")

	table.BySlot(0).SetHandle(&fakeHandle{addr: "08:D1:F9:DF:D7:BA"})
	table.BySlot(0).SetStatus(session.Connected)

	central.onDisconnect(&fakeHandle{addr: "08:D1:F9:DF:D7:BA"})

	if table.BySlot(0).Status() != session.Disconnected {
		t.Fatalf("status = %v, want Disconnected after backend disconnect callback", table.BySlot(0).Status())
	}
}

func TestRecoverAdapterDisconnectsAllAndRestarts(t *testing.T) {
	table := newTable()
	central := &fakeCentral{}
	sup := New(table, central, "char-uuid")

	for _, s := range table.Sessions {
		s.SetHandle(&fakeHandle{addr: s.Spec.Address})
		s.SetStatus(session.Connected)
	}

	sup.RecoverAdapter(context.Background())

	if !central.restarted {
		t.Fatal("RestartAdapter not called")
	}
	if central.disconnectCnt != len(table.Sessions) {
		t.Fatalf("disconnect called %d times, want %d", central.disconnectCnt, len(table.Sessions))
	}
	for _, s := range table.Sessions {
		if s.Status() != session.Disconnected {
			t.Errorf("session %s status = %v, want Disconnected", s.Spec.ShortName, s.Status())
		}
	}
}

func TestTickNoOpWhenScanInProgress(t *testing.T) {
	table := newTable()
	central := &fakeCentral{}
	sup := New(table, central, "char-uuid")
	sup.scanning.Store(true)

	sup.Tick(context.Background())

	if central.scanCalls != 0 {
		t.Fatalf("Scan called %d times while scanning flag held, want 0", central.scanCalls)
	}
}
