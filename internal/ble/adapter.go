// Package ble provides the BLE central client for BLELKDOM LED strips.
// It discovers nearby strips, re-identifies the saved strip across sessions,
// manages a single serialized connection and writes command frames to the
// strip's GATT characteristic.
package ble

import (
	"context"
	"fmt"
	"strings"
)

// BLELKDOM BLE UUIDs
const (
	ServiceUUID             = "0000fff0-0000-1000-8000-00805f9b34fb"
	ServiceUUIDShort        = "fff0"
	CharacteristicUUID      = "0000fff3-0000-1000-8000-00805f9b34fb"
	CharacteristicUUIDShort = "fff3"
)

// baseUUIDSuffix is the Bluetooth SIG base UUID tail used to expand 16-bit UUIDs.
const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID lowercases a UUID and expands 16- and 32-bit short forms to
// the full 128-bit representation so that "fff0" and
// "0000fff0-0000-1000-8000-00805f9b34fb" compare equal.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	switch len(u) {
	case 4:
		return "0000" + u + baseUUIDSuffix
	case 8:
		return u + baseUUIDSuffix
	case 32:
		return u[0:8] + "-" + u[8:12] + "-" + u[12:16] + "-" + u[16:20] + "-" + u[20:]
	}
	return u
}

// AdapterState is the power/authorization status reported by the platform adapter.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterResetting
	AdapterPoweredOff
	AdapterPoweredOn
	AdapterUnauthorized
	AdapterUnsupported
)

func (s AdapterState) String() string {
	switch s {
	case AdapterResetting:
		return "resetting"
	case AdapterPoweredOff:
		return "poweredOff"
	case AdapterPoweredOn:
		return "poweredOn"
	case AdapterUnauthorized:
		return "unauthorized"
	case AdapterUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Unusable reports whether the adapter can never become ready without user action.
func (s AdapterState) Unusable() bool {
	return s == AdapterUnauthorized || s == AdapterUnsupported
}

// Advertisement is one discovered-peripheral event.
type Advertisement struct {
	ID               string   // platform-assigned peripheral identifier
	Address          string   // hardware address, empty when the platform hides it
	LocalName        string   // advertised local name
	ServiceUUIDs     []string // advertised service UUIDs
	ManufacturerData []byte
	RSSI             int
	HasRSSI          bool // false when the platform reported no signal strength
}

// HasService reports whether uuid is among the advertised service UUIDs.
func (a Advertisement) HasService(uuid string) bool {
	want := NormalizeUUID(uuid)
	for _, u := range a.ServiceUUIDs {
		if NormalizeUUID(u) == want {
			return true
		}
	}
	return false
}

func (a Advertisement) String() string {
	return fmt.Sprintf("%s (name=%q address=%q rssi=%d)", a.ID, a.LocalName, a.Address, a.RSSI)
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// UUID returns the characteristic UUID.
	UUID() string
	// WriteWithoutResponse sends data to the characteristic.
	WriteWithoutResponse(data []byte) error
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristics performs a discovery scoped to the given
	// service and characteristic UUIDs.
	DiscoverCharacteristics(serviceUUIDs, charUUIDs []string) ([]Characteristic, error)
	// DiscoverAllCharacteristics discovers every service and characteristic
	// exposed by the peripheral.
	DiscoverAllCharacteristics() ([]Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// State returns the current adapter state.
	State() AdapterState
	// WatchState registers fn for adapter state changes until stop is called.
	WatchState(fn func(AdapterState)) (stop func())
	// Scan listens for advertisements, invoking found for each one in arrival
	// order. A non-empty serviceUUIDs restricts the scan to those services.
	// Scan blocks until ctx is done, then stops scanning and returns nil.
	Scan(ctx context.Context, serviceUUIDs []string, found func(Advertisement)) error
	// Connect establishes a GATT connection to the peripheral with the given id.
	// onDisconnect is registered before connecting and fires at most once
	// when the peripheral drops the link.
	Connect(ctx context.Context, id string, onDisconnect func()) (Connection, error)
}
