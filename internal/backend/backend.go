// Package backend defines the two narrow contracts the aggregation core
// depends on: a CentralBackend (scan/connect/subscribe to fixed peripheral
// sensors) and a PeripheralBackend (advertise and serve one GATT service
// to an upstream consumer). Concrete transports (BlueZ/dbus, or a fake for
// tests) live in subpackages; the core never imports them directly.
package backend

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors central operations fail with. Transient per spec.md §7:
// the supervisor recovers from these locally.
var (
	ErrTimeout   = errors.New("backend: operation timed out")
	ErrTransport = errors.New("backend: transport error")
	ErrNotFound  = errors.New("backend: device not found")
)

// Handle identifies a live connection to a peripheral. Opaque to the core;
// backends type-assert their own concrete handle type internally.
type Handle interface {
	// Address is the handle's peer BLE MAC, used for logging/bookkeeping
	// only (the core never round-trips through it to find a session).
	Address() string
}

// DiscoveredDevice is one scan hit for a roster address.
type DiscoveredDevice struct {
	Address string
	RSSI    int
}

// CentralBackend is the pluggable GATT-central transport: scan for fixed
// roster addresses, connect, subscribe to notifications, disconnect.
// Implementations must invoke OnDisconnect whenever a link drops
// independently of an explicit Disconnect call (spec.md §4.2).
type CentralBackend interface {
	// Scan opens a scan bounded by timeout, matching only the given
	// addresses. It returns as soon as either every address has been
	// seen at least once or timeout elapses; ctx cancellation ends the
	// scan early. At most one Scan may be in flight process-wide; the
	// caller (the supervisor) enforces this, implementations do not.
	Scan(ctx context.Context, match []string, timeout time.Duration) ([]DiscoveredDevice, error)

	// Connect opens a GATT connection to dev, bounded by timeout. On
	// failure it returns a wrapped ErrTimeout, ErrTransport or ErrNotFound
	// (device object could not be resolved); no handle is left live in
	// any case.
	Connect(ctx context.Context, dev DiscoveredDevice, timeout time.Duration) (Handle, error)

	// StartNotify subscribes to the characteristic's NOTIFY value and
	// invokes onData for each notification. onData may run on any
	// goroutine; it must not block and must not call back into the
	// backend (spec.md §4.2).
	StartNotify(h Handle, characteristicUUID string, onData func([]byte)) error

	// Disconnect tears down h. Idempotent: a second call on an
	// already-disconnected handle is a no-op, not an error (spec.md §9).
	Disconnect(h Handle) error

	// SetOnDisconnect registers the callback invoked whenever a handle's
	// link is lost other than through an explicit Disconnect call.
	SetOnDisconnect(fn func(h Handle))

	// RestartAdapter power-cycles the local BLE radio. Used by the
	// supervisor's adapter-recovery path (spec.md §4.4).
	RestartAdapter(ctx context.Context) error
}

// PeripheralBackend is the pluggable GATT-server transport: register one
// notifiable characteristic and keep its value current, and advertise it
// to an upstream consumer (spec.md §4.3).
type PeripheralBackend interface {
	// RegisterService exposes serviceUUID with one characteristic
	// (characteristicUUID) carrying the NOTIFY property.
	RegisterService(serviceUUID, characteristicUUID string) error

	// Update sets the characteristic's current value; if a subscriber
	// exists, a notification is pushed. Transmission may be asynchronous
	// but must complete before the next Update is observable to the
	// subscriber (spec.md §4.3).
	Update(value []byte) error

	// RegisterAdvertisement starts advertising name/serviceUUIDs with the
	// given appearance code, indefinitely (timeout == 0 means no expiry).
	RegisterAdvertisement(name string, serviceUUIDs []string, appearance uint16, timeout time.Duration) error
}
