package config

import (
	"fmt"
	"regexp"
	"strings"
)

// PeerSpec describes one fixed roster entry. Ordering within a Roster is
// stable and defines the slot index used everywhere downstream (queues,
// session table, combined-frame fields).
type PeerSpec struct {
	// Address is the 48-bit BLE MAC address, colon-separated hex
	// (e.g. "08:D1:F9:DF:D7:BA").
	Address string `yaml:"address" validate:"required,ble_mac"`
	// DisplayName is the human-readable peer name (e.g. "RIGHT_ARM").
	DisplayName string `yaml:"display_name" validate:"required"`
	// ShortName is the combined-frame map key for this peer. When empty,
	// it is derived from DisplayName's initials at load time (see
	// DeriveShortName) rather than required in the roster file.
	ShortName string `yaml:"short_name"`
}

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

func validateBLEMac(addr string) bool {
	return macPattern.MatchString(addr)
}

// DeriveShortName derives a short_name from a display name's word initials,
// e.g. "LEFT_ARM" -> "LA". Used when the roster file omits short_name.
func DeriveShortName(displayName string) string {
	words := strings.FieldsFunc(displayName, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	if len(words) == 0 {
		return displayName
	}
	var b strings.Builder
	for _, w := range words {
		if w == "" {
			continue
		}
		b.WriteRune([]rune(strings.ToUpper(w))[0])
	}
	return b.String()
}

// Roster is the ordered, immutable-after-load peer list.
type Roster []PeerSpec

// Normalize upper-cases every address and fills in derived short names;
// it neither checks MAC format nor removes duplicates (both are the
// caller's job via Validate).
func (r Roster) Normalize() Roster {
	out := make(Roster, len(r))
	for i, p := range r {
		p.Address = strings.ToUpper(p.Address)
		if p.ShortName == "" {
			p.ShortName = DeriveShortName(p.DisplayName)
		}
		out[i] = p
	}
	return out
}

// Validate checks MAC well-formedness and short-name/address uniqueness.
// A failure here is a Fatal-class error (spec.md §7): startup aborts.
func (r Roster) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("config: roster must contain at least one peer")
	}
	seenAddr := make(map[string]bool, len(r))
	seenShort := make(map[string]bool, len(r))
	for i, p := range r {
		if !validateBLEMac(p.Address) {
			return fmt.Errorf("config: roster[%d]: %q is not a well-formed BLE MAC address", i, p.Address)
		}
		addr := strings.ToUpper(p.Address)
		if seenAddr[addr] {
			return fmt.Errorf("config: roster[%d]: duplicate address %q", i, p.Address)
		}
		seenAddr[addr] = true

		short := p.ShortName
		if short == "" {
			short = DeriveShortName(p.DisplayName)
		}
		if seenShort[short] {
			return fmt.Errorf("config: roster[%d]: duplicate short_name %q (display_name %q)", i, short, p.DisplayName)
		}
		seenShort[short] = true
	}
	return nil
}
