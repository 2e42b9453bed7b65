package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/sensorgrid/aggregator/internal/aggregator"
	"github.com/sensorgrid/aggregator/internal/backend"
	"github.com/sensorgrid/aggregator/internal/config"
	"github.com/sensorgrid/aggregator/internal/publish"
	"github.com/sensorgrid/aggregator/internal/queue"
	"github.com/sensorgrid/aggregator/internal/session"
	"github.com/sensorgrid/aggregator/internal/supervisor"
)

type noopPeripheral struct{}

func (noopPeripheral) RegisterService(string, string) error { return nil }
func (noopPeripheral) Update([]byte) error                  { return nil }
func (noopPeripheral) RegisterAdvertisement(string, []string, uint16, time.Duration) error {
	return nil
}

type noopCentral struct{}

func (noopCentral) Scan(context.Context, []string, time.Duration) ([]backend.DiscoveredDevice, error) {
	return nil, nil
}
func (noopCentral) Connect(context.Context, backend.DiscoveredDevice, time.Duration) (backend.Handle, error) {
	return nil, backend.ErrTimeout
}
func (noopCentral) StartNotify(backend.Handle, string, func([]byte)) error { return nil }
func (noopCentral) Disconnect(backend.Handle) error                       { return nil }
func (noopCentral) SetOnDisconnect(func(backend.Handle))                  {}
func (noopCentral) RestartAdapter(context.Context) error                  { return nil }

func TestSchedulerRunTicksUntilCancelled(t *testing.T) {
	roster := config.Roster{{Address: "08:D1:F9:DF:D7:BA", DisplayName: "X", ShortName: "X"}}
	table := session.NewTable(roster, func() *queue.TimedQueue { return queue.New(300 * time.Millisecond) })

	path := &publish.Path{Peripheral: noopPeripheral{}, MTUCeiling: 512}
	agg := aggregator.New(table, path, 150*time.Millisecond, 15)
	sup := supervisor.New(table, noopCentral{}, "char-uuid")

	s := &Scheduler{
		Aggregator:        agg,
		Supervisor:        sup,
		MainLoopInterval:  5 * time.Millisecond,
		ScanCheckInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Scheduler.Run did not return after context cancellation")
	}
}
