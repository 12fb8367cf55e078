package ble

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// backend is the I/O strategy behind a Manager: real hardware or simulation.
// It is chosen once at construction.
type backend interface {
	Discover(ctx context.Context, timeout time.Duration, saved *SavedDevice) ([]DeviceSummary, error)
	// Connect finds and attaches target. onDrop fires if the peripheral
	// later drops the link.
	Connect(ctx context.Context, target SavedDevice, onDrop func()) error
	// Disconnect tears down any attached peripheral. Errors are logged, not returned.
	Disconnect(ctx context.Context)
	Write(ctx context.Context, data []byte) error
	// Attached reports whether a writable link is currently held.
	Attached() bool
	Simulated() bool
}

// hardwareBackend drives a real Adapter.
type hardwareBackend struct {
	scanner  *scanner
	timeouts ScanTimeouts

	mu   sync.Mutex
	conn Connection
	char Characteristic
}

func newHardwareBackend(adapter Adapter, cache *discoveryCache, timeouts ScanTimeouts) *hardwareBackend {
	return &hardwareBackend{
		scanner:  &scanner{adapter: adapter, cache: cache},
		timeouts: timeouts,
	}
}

func (b *hardwareBackend) Simulated() bool { return false }

func (b *hardwareBackend) Discover(ctx context.Context, timeout time.Duration, saved *SavedDevice) ([]DeviceSummary, error) {
	return b.scanner.discover(ctx, timeout, saved)
}

func (b *hardwareBackend) Connect(ctx context.Context, target SavedDevice, onDrop func()) error {
	if err := waitReady(ctx, b.scanner.adapter); err != nil {
		return err
	}
	adv, err := b.scanner.findSaved(ctx, target, b.timeouts)
	if err != nil {
		return err
	}
	return b.attach(ctx, *adv, onDrop)
}

// attach connects to the peripheral and resolves the write characteristic,
// first with a targeted discovery and then with an exhaustive one.
func (b *hardwareBackend) attach(ctx context.Context, adv Advertisement, onDrop func()) error {
	var (
		conn Connection
		lost bool
		once sync.Once
	)
	dropped := func() {
		once.Do(func() {
			slog.Warn("[BLE] peripheral disconnected", "peripheral", adv.ID)
			b.mu.Lock()
			lost = true
			if conn != nil && b.conn == conn {
				b.conn = nil
				b.char = nil
			}
			b.mu.Unlock()
			onDrop()
		})
	}

	slog.Info("[BLE] connecting to peripheral", "peripheral", adv.ID)
	c, err := b.scanner.adapter.Connect(ctx, adv.ID, dropped)
	if err != nil {
		return fmt.Errorf("ble: connect to %s: %w", adv.ID, err)
	}
	b.mu.Lock()
	conn = c
	b.mu.Unlock()

	char, err := resolveCharacteristic(c)
	if err != nil {
		if derr := c.Disconnect(); derr != nil {
			slog.Debug("[BLE] disconnect after failed discovery", "error", derr)
		}
		return err
	}
	slog.Info("[BLE] using characteristic", "uuid", char.UUID())

	b.mu.Lock()
	defer b.mu.Unlock()
	if lost {
		return fmt.Errorf("ble: %s disconnected during setup", adv.ID)
	}
	b.conn = c
	b.char = char
	return nil
}

func resolveCharacteristic(conn Connection) (Characteristic, error) {
	chars, err := conn.DiscoverCharacteristics(
		[]string{ServiceUUID, ServiceUUIDShort},
		[]string{CharacteristicUUID, CharacteristicUUIDShort},
	)
	if err == nil {
		chars = slices.DeleteFunc(chars, func(c Characteristic) bool { return !isTargetCharacteristic(c) })
	}
	if err != nil || len(chars) == 0 {
		slog.Info("[BLE] targeted discovery came up empty, trying all services", "error", err)
		all, allErr := conn.DiscoverAllCharacteristics()
		if allErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrCharacteristicUnavailable, allErr)
		}
		chars = slices.DeleteFunc(all, func(c Characteristic) bool { return !isTargetCharacteristic(c) })
	}
	if len(chars) == 0 {
		return nil, ErrCharacteristicUnavailable
	}
	return chars[0], nil
}

func isTargetCharacteristic(c Characteristic) bool {
	return NormalizeUUID(c.UUID()) == CharacteristicUUID
}

func (b *hardwareBackend) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.char != nil
}

func (b *hardwareBackend) Disconnect(_ context.Context) {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.char = nil
	b.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Disconnect(); err != nil {
		slog.Debug("[BLE] disconnect error ignored", "error", err)
	}
}

func (b *hardwareBackend) Write(_ context.Context, data []byte) error {
	b.mu.Lock()
	char := b.char
	b.mu.Unlock()
	if char == nil {
		return ErrNotConnected
	}
	if err := char.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("ble: write: %w", err)
	}
	return nil
}
