package aggregator

import (
	"sync"
	"testing"
	"time"

	"github.com/sensorgrid/aggregator/internal/config"
	"github.com/sensorgrid/aggregator/internal/publish"
	"github.com/sensorgrid/aggregator/internal/queue"
	"github.com/sensorgrid/aggregator/internal/session"
)

type fakePeripheral struct {
	mu      sync.Mutex
	updates [][]byte
}

func (f *fakePeripheral) RegisterService(string, string) error { return nil }

func (f *fakePeripheral) Update(value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), value...)
	f.updates = append(f.updates, cp)
	return nil
}

func (f *fakePeripheral) RegisterAdvertisement(string, []string, uint16, time.Duration) error {
	return nil
}

func (f *fakePeripheral) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func newTestTable(n int) *session.Table {
	roster := make(config.Roster, n)
	addrs := []string{"08:D1:F9:DF:D7:BA", "08:D1:F9:C7:14:DE", "CD:C8:D6:CF:45:50", "D9:4D:33:22:7F:55"}
	for i := 0; i < n; i++ {
		roster[i] = config.PeerSpec{Address: addrs[i%len(addrs)], DisplayName: "PEER", ShortName: string(rune('A' + i))}
	}
	return session.NewTable(roster, func() *queue.TimedQueue { return queue.New(300 * time.Millisecond) })
}

func newTestAggregator(n int, peripheral *fakePeripheral) *Aggregator {
	table := newTestTable(n)
	path := &publish.Path{Peripheral: peripheral, MTUCeiling: 512}
	agg := New(table, path, 150*time.Millisecond, 15)
	return agg
}

func msgpackInt(t *testing.T, v int) []byte {
	t.Helper()
	// 1-byte positive fixint encoding covers the small values used here.
	if v < 0 || v > 127 {
		t.Fatalf("msgpackInt helper only supports 0..127, got %d", v)
	}
	return []byte{byte(v)}
}

func TestTickSkipsWhenAnyQueueEmpty(t *testing.T) {
	peripheral := &fakePeripheral{}
	agg := newTestAggregator(2, peripheral)

	agg.Table.BySlot(0).Queue.Put(msgpackInt(t, 1))
	// slot 1 has nothing.

	if agg.Tick() {
		t.Fatal("Tick() = true with one empty queue, want false")
	}
	if peripheral.count() != 0 {
		t.Fatalf("peripheral received %d updates, want 0", peripheral.count())
	}
}

func TestTickEmitsWhenWithinSkew(t *testing.T) {
	peripheral := &fakePeripheral{}
	agg := newTestAggregator(2, peripheral)

	agg.Table.BySlot(0).Queue.Put(msgpackInt(t, 1))
	agg.Table.BySlot(1).Queue.Put(msgpackInt(t, 2))

	if !agg.Tick() {
		t.Fatal("Tick() = false with both queues fresh and aligned, want true")
	}
	if peripheral.count() != 1 {
		t.Fatalf("peripheral received %d updates, want 1", peripheral.count())
	}
}

func TestTickDropsStragglerUntilWithinSkew(t *testing.T) {
	peripheral := &fakePeripheral{}
	agg := newTestAggregator(2, peripheral)

	q0 := agg.Table.BySlot(0).Queue
	q1 := agg.Table.BySlot(1).Queue

	// Slot 0's only payload is far behind slot 1's fresh one: skew
	// exceeds MaxSkew, so the straggler-drop loop pops slot 0's oldest
	// (only) entry, leaving it empty — the tick must skip-emit rather
	// than publish a misaligned frame.
	q0.Put(msgpackInt(t, 1))
	time.Sleep(200 * time.Millisecond)
	q1.Put(msgpackInt(t, 2))

	if agg.Tick() {
		t.Fatal("Tick() = true while slot 0 was a stale straggler, want false")
	}
	if peripheral.count() != 0 {
		t.Fatalf("peripheral received %d updates, want 0", peripheral.count())
	}

	// Once slot 0 catches up with a fresh payload, the next tick must
	// succeed.
	q0.Put(msgpackInt(t, 3))
	if !agg.Tick() {
		t.Fatal("Tick() = false after straggler caught up, want true")
	}
}

func TestTickAdapterRecoveryAfterConsecutiveEmpty(t *testing.T) {
	peripheral := &fakePeripheral{}
	agg := newTestAggregator(2, peripheral)
	for _, s := range agg.Table.Sessions {
		s.SetStatus(session.Connected)
	}

	recovered := false
	agg.OnAdapterRecovery = func() { recovered = true }

	for i := 0; i < 17; i++ {
		agg.Tick()
	}
	if !recovered {
		t.Fatal("OnAdapterRecovery not called after sustained empty ticks with all peers connected")
	}
}

func TestTickNoRecoveryWhenNotAllConnected(t *testing.T) {
	peripheral := &fakePeripheral{}
	agg := newTestAggregator(2, peripheral)
	agg.Table.BySlot(0).SetStatus(session.Connected)
	// slot 1 left Unavailable.

	recovered := false
	agg.OnAdapterRecovery = func() { recovered = true }

	for i := 0; i < 30; i++ {
		agg.Tick()
	}
	if recovered {
		t.Fatal("OnAdapterRecovery called even though not all peers are connected")
	}
}
