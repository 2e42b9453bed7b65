package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Options carries every tunable from spec.md §6. Zero-value fields are
// filled in from the `default` struct tags by ApplyDefaults before use.
type Options struct {
	Roster Roster `yaml:"roster" validate:"required,dive"`

	DeviceName string `yaml:"device_name" default:"CENTRAL_PI" validate:"required"`
	AdapterID  string `yaml:"adapter_id" default:"hci0" validate:"required"`

	MainLoopInterval     time.Duration `yaml:"main_loop_interval" default:"120ms" validate:"gt=0"`
	MaxMCUTimeDifference time.Duration `yaml:"max_mcu_time_difference" default:"150ms" validate:"gt=0"`
	DataValidityThreshold time.Duration `yaml:"data_validity_threshold" default:"300ms" validate:"gt=0"`
	ScanTimeout          time.Duration `yaml:"scan_timeout" default:"1.5s" validate:"gt=0"`
	ScanCheckInterval    time.Duration `yaml:"scan_check_interval" default:"500ms" validate:"gt=0"`
	ConnectionTimeout    time.Duration `yaml:"connection_timeout" default:"8s" validate:"gt=0"`
	ReconnectionDelay    time.Duration `yaml:"reconnection_delay" default:"1s" validate:"gt=0"`
	ConnectSettleDelay   time.Duration `yaml:"connect_settle_delay" default:"300ms" validate:"gte=0"`
	MaxConsecutiveFail   int           `yaml:"max_consecutive_fail" default:"15" validate:"gt=0"`
	MTUCeiling           int           `yaml:"mtu_ceiling" default:"512" validate:"gt=0"`

	// MetricsAddr, when non-empty, serves Prometheus metrics on this
	// address (e.g. ":9464"). Empty disables the metrics HTTP server.
	MetricsAddr string `yaml:"metrics_addr"`

	Debug bool `yaml:"debug"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("ble_mac", func(fl validator.FieldLevel) bool {
		return validateBLEMac(fl.Field().String())
	})
	return v
}

// ApplyDefaults fills zero-value fields per the `default` struct tags.
func (o *Options) ApplyDefaults() {
	defaults.SetDefaults(o)
}

// Validate runs field-level validation, then roster-level checks. A
// non-nil return is a Fatal-class error per spec.md §7.
func (o *Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("config: invalid options: %w", err)
	}
	if err := o.Roster.Validate(); err != nil {
		return err
	}
	return nil
}

// Load reads YAML options from path, applies defaults for any field the
// file left at zero value, normalizes the roster (short-name derivation),
// and validates the result.
func Load(path string) (*Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var opts Options
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	opts.ApplyDefaults()
	opts.Roster = opts.Roster.Normalize()

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}
