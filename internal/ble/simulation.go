package ble

import (
	"context"
	"log/slog"
	"time"
)

// simulatedBackend preserves the external contract without hardware,
// substituting a fixed latency for every I/O step.
type simulatedBackend struct {
	cache   *discoveryCache
	latency time.Duration
}

// SimulatedDevice is the single strip reported in simulation mode.
var SimulatedDevice = DeviceSummary{ID: "simulated-led", Name: "Simulated BLE Strip"}

func (b *simulatedBackend) Simulated() bool { return true }

func (b *simulatedBackend) Discover(_ context.Context, _ time.Duration, _ *SavedDevice) ([]DeviceSummary, error) {
	slog.Info("[BLE] simulation mode active, returning simulated device")
	b.cache.put(SimulatedDevice)
	return []DeviceSummary{SimulatedDevice}, nil
}

func (b *simulatedBackend) Connect(ctx context.Context, _ SavedDevice, _ func()) error {
	return b.sleep(ctx)
}

func (b *simulatedBackend) Disconnect(context.Context) {}

func (b *simulatedBackend) Attached() bool { return true }

func (b *simulatedBackend) Write(ctx context.Context, _ []byte) error {
	return b.sleep(ctx)
}

func (b *simulatedBackend) sleep(ctx context.Context) error {
	t := time.NewTimer(b.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
