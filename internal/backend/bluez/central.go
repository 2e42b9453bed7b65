// Package bluez implements backend.CentralBackend and
// backend.PeripheralBackend against BlueZ over D-Bus, via
// github.com/muka/go-bluetooth. Adapted from the bitchat project's
// internal/bluetooth/linux_adapter.go (scan/connect/notify flow) and
// platform/linux/bluetooth.go (adapter lifecycle), generalized from a
// mesh broadcast transport to a fixed-roster notify-subscriber.
package bluez

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/device"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"
	"github.com/sirupsen/logrus"

	"github.com/sensorgrid/aggregator/internal/backend"
)

// deviceHandle wraps a connected device.Device1 to satisfy backend.Handle.
type deviceHandle struct {
	dev  *device.Device1
	addr string

	mu           sync.Mutex
	disconnected bool
}

func (h *deviceHandle) Address() string { return h.addr }

// Central is a BlueZ-backed backend.CentralBackend. One instance owns the
// local adapter exclusively: at most one Scan and one Connect are ever in
// flight at a time (spec.md §5), enforced by the supervisor above this
// package, not by Central itself.
type Central struct {
	adapterID string
	adapter   *adapter.Adapter1

	mu            sync.Mutex
	onDisconnect  func(backend.Handle)
	notifyCancels map[string]func()

	Log *logrus.Entry
}

// NewCentral obtains the named local adapter (default "hci0") and powers
// it on if necessary.
func NewCentral(adapterID string, log *logrus.Entry) (*Central, error) {
	a, err := adapter.NewAdapter1FromAdapterID(adapterID)
	if err != nil {
		return nil, fmt.Errorf("bluez: open adapter %s: %w", adapterID, err)
	}
	powered, err := a.GetPowered()
	if err != nil {
		return nil, fmt.Errorf("bluez: query adapter power state: %w", err)
	}
	if !powered {
		if err := a.SetPowered(true); err != nil {
			return nil, fmt.Errorf("bluez: power on adapter: %w", err)
		}
	}
	return &Central{
		adapterID:     adapterID,
		adapter:       a,
		notifyCancels: make(map[string]func()),
		Log:           log,
	}, nil
}

// Scan discovers devices advertising ServiceUUID, matching only the given
// addresses, bounded by timeout (or earlier ctx cancellation). It returns
// as soon as every address has been seen once.
func (c *Central) Scan(ctx context.Context, match []string, timeout time.Duration) ([]backend.DiscoveredDevice, error) {
	want := make(map[string]bool, len(match))
	for _, a := range match {
		want[normalizeAddr(a)] = true
	}

	filter := adapter.NewDiscoveryFilter()
	filter.Transport = "le"
	filter.UUIDs = []string{backend.ServiceUUID}
	if err := c.adapter.SetDiscoveryFilter(filter.ToMap()); err != nil {
		return nil, fmt.Errorf("%w: set discovery filter: %v", backend.ErrTransport, err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	discovery, discoveryCancel, err := api.Discover(c.adapter, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: start discovery: %v", backend.ErrTransport, err)
	}
	defer discoveryCancel()

	found := make(map[string]backend.DiscoveredDevice)
	for len(found) < len(want) {
		select {
		case <-scanCtx.Done():
			return toSlice(found), nil
		case ev, ok := <-discovery:
			if !ok {
				return toSlice(found), nil
			}
			if ev.Type != adapter.DeviceAdded {
				continue
			}
			dev, err := device.NewDevice1(ev.Path)
			if err != nil {
				continue
			}
			addr, err := dev.GetAddress()
			if err != nil {
				continue
			}
			norm := normalizeAddr(addr)
			if !want[norm] {
				continue
			}
			rssi, _ := dev.GetRSSI()
			found[norm] = backend.DiscoveredDevice{Address: addr, RSSI: int(rssi)}
		}
	}
	return toSlice(found), nil
}

func toSlice(m map[string]backend.DiscoveredDevice) []backend.DiscoveredDevice {
	out := make([]backend.DiscoveredDevice, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	return out
}

func normalizeAddr(addr string) string {
	out := make([]byte, len(addr))
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Connect opens a GATT connection to dev, bounded by timeout.
func (c *Central) Connect(ctx context.Context, dev backend.DiscoveredDevice, timeout time.Duration) (backend.Handle, error) {
	d1, err := device.NewDevice1(device.Path(c.adapterID, dev.Address))
	if err != nil {
		return nil, fmt.Errorf("%w: resolve device object: %v", backend.ErrNotFound, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d1.Connect() }()

	select {
	case <-connectCtx.Done():
		_ = d1.Disconnect()
		return nil, fmt.Errorf("%w: connect to %s", backend.ErrTimeout, dev.Address)
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("%w: connect to %s: %v", backend.ErrTransport, dev.Address, err)
		}
	}

	h := &deviceHandle{dev: d1, addr: dev.Address}
	if err := c.watchConnection(h); err != nil && c.Log != nil {
		c.Log.WithError(err).WithField("address", dev.Address).Warn("could not watch connection state")
	}
	return h, nil
}

// StartNotify subscribes to characteristicUUID's NOTIFY value on h's
// device and invokes onData for each update.
func (c *Central) StartNotify(h backend.Handle, characteristicUUID string, onData func([]byte)) error {
	dh, ok := h.(*deviceHandle)
	if !ok {
		return fmt.Errorf("%w: wrong handle type", backend.ErrTransport)
	}

	char, err := findCharacteristic(dh.dev, backend.ServiceUUID, characteristicUUID)
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrTransport, err)
	}

	updates, err := char.WatchProperties()
	if err != nil {
		return fmt.Errorf("%w: watch characteristic properties: %v", backend.ErrTransport, err)
	}
	if err := char.StartNotify(); err != nil {
		return fmt.Errorf("%w: start notify: %v", backend.ErrTransport, err)
	}

	cancel := make(chan struct{})
	c.mu.Lock()
	c.notifyCancels[dh.addr] = func() { close(cancel) }
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-cancel:
				return
			case changed, ok := <-updates:
				if !ok {
					return
				}
				if changed.Name != "Value" {
					continue
				}
				if b, ok := changed.Value.([]byte); ok {
					onData(b)
				}
			}
		}
	}()

	return nil
}

// findCharacteristic walks dev's exposed services for the given
// service/characteristic UUID pair.
func findCharacteristic(dev *device.Device1, serviceUUID, characteristicUUID string) (*gatt.GattCharacteristic1, error) {
	services, err := dev.GetAllServicesAndUUID()
	if err != nil {
		return nil, fmt.Errorf("enumerate services: %w", err)
	}
	for _, svcPath := range services {
		svc, err := gatt.NewGattService1(svcPath.Path)
		if err != nil {
			continue
		}
		uuid, err := svc.GetUUID()
		if err != nil || !sameUUID(uuid, serviceUUID) {
			continue
		}
		chars, err := svc.GetCharacteristics()
		if err != nil {
			continue
		}
		for _, charPath := range chars {
			ch, err := gatt.NewGattCharacteristic1(charPath)
			if err != nil {
				continue
			}
			cUUID, err := ch.GetUUID()
			if err == nil && sameUUID(cUUID, characteristicUUID) {
				return ch, nil
			}
		}
	}
	return nil, fmt.Errorf("characteristic %s not found under service %s", characteristicUUID, serviceUUID)
}

func sameUUID(a, b string) bool {
	return len(a) == len(b) && normalizeUUID(a) == normalizeUUID(b)
}

func normalizeUUID(u string) string {
	out := make([]byte, 0, len(u))
	for i := 0; i < len(u); i++ {
		c := u[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// Disconnect tears down h. Idempotent (spec.md §9): a handle that's
// already been torn down (by the backend's own disconnect callback, or a
// previous call) is a no-op.
func (c *Central) Disconnect(h backend.Handle) error {
	dh, ok := h.(*deviceHandle)
	if !ok {
		return fmt.Errorf("%w: wrong handle type", backend.ErrTransport)
	}

	dh.mu.Lock()
	if dh.disconnected {
		dh.mu.Unlock()
		return nil
	}
	dh.disconnected = true
	dh.mu.Unlock()

	c.mu.Lock()
	if cancel, ok := c.notifyCancels[dh.addr]; ok {
		cancel()
		delete(c.notifyCancels, dh.addr)
	}
	c.mu.Unlock()

	if err := dh.dev.Disconnect(); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrTransport, err)
	}
	return nil
}

// SetOnDisconnect registers the callback invoked when BlueZ reports a
// device's Connected property flipping to false outside an explicit
// Disconnect call.
func (c *Central) SetOnDisconnect(fn func(backend.Handle)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// watchConnection starts a property-watch goroutine on dev that invokes
// the registered onDisconnect callback the first time Connected becomes
// false, unless the handle was already torn down by Disconnect. Called
// internally right after a successful Connect.
func (c *Central) watchConnection(h backend.Handle) error {
	dh, ok := h.(*deviceHandle)
	if !ok {
		return fmt.Errorf("%w: wrong handle type", backend.ErrTransport)
	}

	updates, err := dh.dev.WatchProperties()
	if err != nil {
		return fmt.Errorf("%w: watch device properties: %v", backend.ErrTransport, err)
	}

	go func() {
		for changed := range updates {
			if changed.Name != "Connected" {
				continue
			}
			connected, ok := changed.Value.(bool)
			if ok && !connected {
				dh.mu.Lock()
				explicit := dh.disconnected
				dh.mu.Unlock()
				if explicit {
					return
				}
				c.mu.Lock()
				cb := c.onDisconnect
				c.mu.Unlock()
				if cb != nil {
					cb(h)
				}
				return
			}
		}
	}()
	return nil
}

// RestartAdapter power-cycles the local BLE radio: the recovery path for
// the "connected but silent" pathology (spec.md §4.4).
func (c *Central) RestartAdapter(ctx context.Context) error {
	if err := c.adapter.SetPowered(false); err != nil {
		return fmt.Errorf("%w: power off: %v", backend.ErrTransport, err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
	}
	if err := c.adapter.SetPowered(true); err != nil {
		return fmt.Errorf("%w: power on: %v", backend.ErrTransport, err)
	}
	return nil
}
