// Command sensoraggregator runs the BLE sensor aggregator: a central
// connected to the fixed peer roster, combined with a peripheral
// advertising the aggregated, time-aligned, compressed telemetry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sensorgrid/aggregator/internal/aggregator"
	"github.com/sensorgrid/aggregator/internal/backend"
	"github.com/sensorgrid/aggregator/internal/backend/bluez"
	"github.com/sensorgrid/aggregator/internal/config"
	"github.com/sensorgrid/aggregator/internal/metrics"
	"github.com/sensorgrid/aggregator/internal/publish"
	"github.com/sensorgrid/aggregator/internal/queue"
	"github.com/sensorgrid/aggregator/internal/scheduler"
	"github.com/sensorgrid/aggregator/internal/session"
	"github.com/sensorgrid/aggregator/internal/supervisor"
)

const appVersion = "0.1.0"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "sensoraggregator",
		Short:   "Aggregate fixed-roster BLE sensor telemetry and republish it as one GATT service",
		Version: appVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "sensoraggregator.yaml", "path to the roster/options YAML file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	opts, err := config.Load(configPath)
	if err != nil {
		// Fatal-class error per spec.md §7: abort startup.
		return fmt.Errorf("loading config: %w", err)
	}

	log := newLogger(opts.Debug)

	central, err := bluez.NewCentral(opts.AdapterID, log.WithField("component", "central"))
	if err != nil {
		return fmt.Errorf("initializing central backend: %w", err)
	}

	peripheral := bluez.NewPeripheral(opts.AdapterID, log.WithField("component", "peripheral"))
	if err := peripheral.RegisterService(backend.ServiceUUID, backend.CharacteristicUUID); err != nil {
		// Fatal per spec.md §7: failure to register the peripheral
		// service aborts the process.
		return fmt.Errorf("registering peripheral service: %w", err)
	}
	if err := peripheral.RegisterAdvertisement(opts.DeviceName, []string{backend.ServiceUUID}, 0x0000, 0); err != nil {
		return fmt.Errorf("registering advertisement: %w", err)
	}
	defer peripheral.Close()

	table := session.NewTable(opts.Roster, func() *queue.TimedQueue {
		return queue.New(opts.DataValidityThreshold)
	})

	var reg *metrics.Registry
	promReg := prometheus.NewRegistry()
	reg = metrics.NewRegistry(promReg)

	path := &publish.Path{
		Peripheral: peripheral,
		MTUCeiling: opts.MTUCeiling,
		Metrics:    reg,
		Log:        log.WithField("component", "publish"),
	}

	agg := aggregator.New(table, path, opts.MaxMCUTimeDifference, opts.MaxConsecutiveFail)
	agg.Metrics = reg
	agg.Log = log.WithField("component", "aggregator")

	sup := supervisor.New(table, central, backend.CharacteristicUUID)
	sup.ScanTimeout = opts.ScanTimeout
	sup.ScanCheckInterval = opts.ScanCheckInterval
	sup.ConnectionTimeout = opts.ConnectionTimeout
	sup.ConnectSettleDelay = opts.ConnectSettleDelay
	sup.ReconnectionDelay = opts.ReconnectionDelay
	sup.Metrics = reg
	sup.Log = log.WithField("component", "supervisor")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// RecoverAdapter waits on the adapter power-cycle, so it runs off the
	// aggregator's tick, which must not suspend.
	agg.OnAdapterRecovery = func() { go sup.RecoverAdapter(ctx) }

	if opts.MetricsAddr != "" {
		go metrics.Serve(ctx, opts.MetricsAddr, promReg, log.WithField("component", "metrics"))
	}

	sched := &scheduler.Scheduler{
		Aggregator:        agg,
		Supervisor:        sup,
		MainLoopInterval:  opts.MainLoopInterval,
		ScanCheckInterval: opts.ScanCheckInterval,
		Log:               log.WithField("component", "scheduler"),
	}

	log.WithFields(logrus.Fields{
		"device_name": opts.DeviceName,
		"roster_size": len(opts.Roster),
	}).Info("sensoraggregator starting")

	sched.Run(ctx)
	log.Info("sensoraggregator stopped")
	return nil
}

func newLogger(debug bool) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return logrus.NewEntry(l)
}
