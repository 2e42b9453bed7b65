package bluez

import (
	"fmt"
	"sync"
	"time"

	"github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/api/service"
	"github.com/muka/go-bluetooth/bluez/profile/advertising"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"
	"github.com/sirupsen/logrus"

	"github.com/sensorgrid/aggregator/internal/backend"
)

// Peripheral is a BlueZ-backed backend.PeripheralBackend: it registers a
// single notifiable characteristic and keeps its value current, then
// advertises it to an upstream consumer. Adapted from the bitchat
// project's advertisement/GATT-registration scaffolding in
// internal/bluetooth/linux_adapter.go (StartAdvertising), filled in with
// the real muka/go-bluetooth local-GATT-server API instead of the
// teacher's stubbed-out placeholder.
type Peripheral struct {
	adapterID string

	mu           sync.Mutex
	app          *service.App
	char         *service.Char
	value        []byte
	advertCancel func() error

	Log *logrus.Entry
}

// NewPeripheral constructs a Peripheral bound to the named local adapter.
func NewPeripheral(adapterID string, log *logrus.Entry) *Peripheral {
	return &Peripheral{adapterID: adapterID, Log: log}
}

// RegisterService exposes serviceUUID with a single NOTIFY characteristic.
func (p *Peripheral) RegisterService(serviceUUID, characteristicUUID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	app, err := service.NewApp(service.AppOptions{AdapterID: p.adapterID})
	if err != nil {
		return fmt.Errorf("bluez: create gatt application: %w", err)
	}

	svc, err := app.NewService(serviceUUID)
	if err != nil {
		return fmt.Errorf("bluez: create service %s: %w", serviceUUID, err)
	}
	if err := app.AddService(svc); err != nil {
		return fmt.Errorf("bluez: register service %s: %w", serviceUUID, err)
	}

	char, err := svc.NewChar(characteristicUUID)
	if err != nil {
		return fmt.Errorf("bluez: create characteristic %s: %w", characteristicUUID, err)
	}
	char.Properties.Flags = []string{gatt.FlagCharacteristicNotify}
	char.OnRead(func(c *service.Char, options map[string]interface{}) ([]byte, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.value, nil
	})
	if err := svc.AddChar(char); err != nil {
		return fmt.Errorf("bluez: register characteristic %s: %w", characteristicUUID, err)
	}

	if err := app.Run(); err != nil {
		return fmt.Errorf("bluez: run gatt application: %w", err)
	}

	p.app = app
	p.char = char
	return nil
}

// Update sets the characteristic's current value and notifies any
// subscriber.
func (p *Peripheral) Update(value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.char == nil {
		return fmt.Errorf("bluez: characteristic not registered")
	}
	p.value = append([]byte(nil), value...)
	if err := p.char.WriteValue(p.value, nil); err != nil {
		return fmt.Errorf("bluez: update characteristic value: %w", err)
	}
	return nil
}

// RegisterAdvertisement starts advertising name/serviceUUIDs with the
// given appearance code. timeout == 0 advertises indefinitely.
func (p *Peripheral) RegisterAdvertisement(name string, serviceUUIDs []string, appearance uint16, timeout time.Duration) error {
	p.mu.Lock()
	app := p.app
	p.mu.Unlock()
	if app == nil {
		return fmt.Errorf("bluez: cannot advertise before RegisterService")
	}

	props := &advertising.LEAdvertisement1Properties{
		Type:         advertising.AdvertisementTypeBroadcast,
		LocalName:    name,
		ServiceUUIDs: serviceUUIDs,
		Appearance:   appearance,
	}
	if timeout > 0 {
		props.Timeout = uint16(timeout / time.Second)
	}

	cancel, err := api.ExposeAdvertisement(p.adapterID, props, 0)
	if err != nil {
		return fmt.Errorf("bluez: register advertisement: %w", err)
	}

	p.mu.Lock()
	p.advertCancel = cancel
	p.mu.Unlock()
	return nil
}

// Close tears down advertising and the GATT application, best-effort.
func (p *Peripheral) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.advertCancel != nil {
		_ = p.advertCancel()
		p.advertCancel = nil
	}
	if p.app != nil {
		p.app.Close()
		p.app = nil
	}
}
