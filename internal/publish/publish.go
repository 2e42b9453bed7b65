// Package publish implements the publish path (spec.md §4.6): pack the
// combined frame, compress it, push it to the peripheral backend, and
// enforce the MTU ceiling as a logged alarm rather than a hard failure.
package publish

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sensorgrid/aggregator/internal/backend"
	"github.com/sensorgrid/aggregator/internal/codec"
	"github.com/sensorgrid/aggregator/internal/compress"
	"github.com/sensorgrid/aggregator/internal/metrics"
)

// Path composes the codec, compressor, and peripheral backend into the
// single Emit operation the aggregator calls once per successful tick.
type Path struct {
	Peripheral backend.PeripheralBackend
	MTUCeiling int

	Metrics *metrics.Registry
	Log     *logrus.Entry
}

// Emit packs, compresses, and publishes one combined frame. An oversize
// compressed frame is a logged error-class event, not a failure: the
// frame is still handed to the backend (spec.md §4.6 step 3; §7 Publish
// error). A codec or compressor error aborts the tick without touching
// the backend.
func (p *Path) Emit(t float64, peers map[string]codec.PeerEntry) error {
	raw, err := codec.Encode(t, peers)
	if err != nil {
		return fmt.Errorf("publish: encode: %w", err)
	}

	compressed, err := compress.Compress(raw)
	if err != nil {
		return fmt.Errorf("publish: compress: %w", err)
	}

	if p.Metrics != nil {
		p.Metrics.CompressedFrameBytes.Observe(float64(len(compressed)))
	}

	if len(compressed) >= p.MTUCeiling {
		if p.Metrics != nil {
			p.Metrics.OversizeFrames.Inc()
		}
		if p.Log != nil {
			p.Log.WithFields(logrus.Fields{
				"compressed_bytes": len(compressed),
				"mtu_ceiling":      p.MTUCeiling,
			}).Error("combined frame exceeds MTU ceiling; publishing anyway")
		}
	}

	if err := p.Peripheral.Update(compressed); err != nil {
		if p.Metrics != nil {
			p.Metrics.PublishErrors.Inc()
		}
		// Publish error: logged, no retry — the next tick tries again
		// with fresh data (spec.md §7).
		if p.Log != nil {
			p.Log.WithError(err).Error("peripheral backend rejected frame update")
		}
		return fmt.Errorf("publish: update: %w", err)
	}

	if p.Metrics != nil {
		p.Metrics.FramesEmitted.Inc()
	}
	return nil
}
