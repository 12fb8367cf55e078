package ble

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth. On macOS peripheral addresses
// are CoreBluetooth UUIDs rather than MAC addresses, so Advertisement.Address
// is only filled when the platform exposes a real MAC.
//
// tinygo exposes no runtime power-state feed. The state is set once by
// OpenTinyGoAdapter (poweredOn after Enable, unsupported when it fails), so
// WatchState only ever sees that transition.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	probe   []bluetooth.UUID

	// scanMu makes scans process-wide exclusive.
	scanMu sync.Mutex

	// mu protects the fields below.
	mu          sync.Mutex
	state       AdapterState
	addresses   map[string]bluetooth.Address // keyed by peripheral id
	disconnects map[string]func()
	watchers    map[int]func(AdapterState)
	nextWatcher int
}

// OpenTinyGoAdapter enables the default adapter. An error means no usable
// BLE stack is present.
func OpenTinyGoAdapter() (*TinyGoAdapter, error) {
	a := &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		addresses:   make(map[string]bluetooth.Address),
		disconnects: make(map[string]func()),
		watchers:    make(map[int]func(AdapterState)),
	}
	for _, s := range []string{ServiceUUID} {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
		a.probe = append(a.probe, u)
	}

	if err := a.adapter.Enable(); err != nil {
		a.setState(AdapterUnsupported)
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	// On macOS, tinygo/bluetooth fires this callback (with connected=false)
	// when a peripheral disconnects, via DidDisconnectPeripheral.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		cb, ok := a.disconnects[id]
		delete(a.disconnects, id)
		a.mu.Unlock()
		if ok && cb != nil {
			cb()
		}
	})

	a.setState(AdapterPoweredOn)
	return a, nil
}

func (a *TinyGoAdapter) setState(s AdapterState) {
	a.mu.Lock()
	a.state = s
	watchers := make([]func(AdapterState), 0, len(a.watchers))
	for _, fn := range a.watchers {
		watchers = append(watchers, fn)
	}
	a.mu.Unlock()
	for _, fn := range watchers {
		fn(s)
	}
}

func (a *TinyGoAdapter) State() AdapterState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *TinyGoAdapter) WatchState(fn func(AdapterState)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextWatcher
	a.nextWatcher++
	a.watchers[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.watchers, id)
	}
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUIDs []string, found func(Advertisement)) error {
	filters := make([]bluetooth.UUID, 0, len(serviceUUIDs))
	for _, s := range serviceUUIDs {
		u, err := bluetooth.ParseUUID(NormalizeUUID(s))
		if err != nil {
			return fmt.Errorf("ble: parse service UUID: %w", err)
		}
		filters = append(filters, u)
	}
	probe := append(append([]bluetooth.UUID{}, a.probe...), filters...)

	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			return
		}
		if len(filters) > 0 && !hasAny(result, filters) {
			return
		}
		adv := a.toAdvertisement(result, probe)
		a.mu.Lock()
		a.addresses[adv.ID] = result.Address
		a.mu.Unlock()
		found(adv)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func hasAny(result bluetooth.ScanResult, uuids []bluetooth.UUID) bool {
	for _, u := range uuids {
		if result.HasServiceUUID(u) {
			return true
		}
	}
	return false
}

func (a *TinyGoAdapter) toAdvertisement(result bluetooth.ScanResult, probe []bluetooth.UUID) Advertisement {
	id := result.Address.String()
	adv := Advertisement{
		ID:        id,
		LocalName: result.LocalName(),
		RSSI:      int(result.RSSI),
		HasRSSI:   true,
	}
	if _, err := net.ParseMAC(id); err == nil {
		adv.Address = id
	}
	for _, u := range probe {
		if result.HasServiceUUID(u) {
			adv.ServiceUUIDs = append(adv.ServiceUUIDs, u.String())
		}
	}
	for _, m := range result.ManufacturerData() {
		adv.ManufacturerData = binary.LittleEndian.AppendUint16(adv.ManufacturerData, m.CompanyID)
		adv.ManufacturerData = append(adv.ManufacturerData, m.Data...)
	}
	return adv
}

func (a *TinyGoAdapter) Connect(ctx context.Context, id string, onDisconnect func()) (Connection, error) {
	a.mu.Lock()
	addr, ok := a.addresses[id]
	if onDisconnect != nil {
		a.disconnects[id] = onDisconnect
	}
	a.mu.Unlock()
	if !ok {
		addr.Set(id)
	}

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		a.forget(id)
		return nil, fmt.Errorf("ble: connect to %s: %w", id, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			a.forget(id)
			return nil, fmt.Errorf("ble: connect to %s: %w", id, result.err)
		}
		return &tinyGoConnection{device: result.device, forget: func() { a.forget(id) }}, nil
	}
}

func (a *TinyGoAdapter) forget(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.disconnects, id)
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device bluetooth.Device
	forget func()
}

func (c *tinyGoConnection) DiscoverCharacteristics(serviceUUIDs, charUUIDs []string) ([]Characteristic, error) {
	svcFilter, err := parseUUIDs(serviceUUIDs)
	if err != nil {
		return nil, err
	}
	charFilter, err := parseUUIDs(charUUIDs)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices(svcFilter)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	var out []Characteristic
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics(charFilter)
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics: %w", err)
		}
		for i := range chars {
			out = append(out, &tinyGoCharacteristic{char: chars[i]})
		}
	}
	return out, nil
}

func (c *tinyGoConnection) DiscoverAllCharacteristics() ([]Characteristic, error) {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover all services: %w", err)
	}
	var out []Characteristic
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics of %s: %w", svc.UUID().String(), err)
		}
		for i := range chars {
			out = append(out, &tinyGoCharacteristic{char: chars[i]})
		}
	}
	return out, nil
}

func (c *tinyGoConnection) Disconnect() error {
	c.forget()
	return c.device.Disconnect()
}

// parseUUIDs keeps only full-length UUIDs; tinygo compares 128-bit values, so
// short aliases are expanded first and duplicates dropped.
func parseUUIDs(in []string) ([]bluetooth.UUID, error) {
	seen := make(map[string]bool)
	var out []bluetooth.UUID
	for _, s := range in {
		n := NormalizeUUID(s)
		if seen[n] {
			continue
		}
		seen[n] = true
		u, err := bluetooth.ParseUUID(n)
		if err != nil {
			return nil, fmt.Errorf("ble: parse UUID %q: %w", s, err)
		}
		out = append(out, u)
	}
	return out, nil
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) UUID() string {
	return c.char.UUID().String()
}

func (c *tinyGoCharacteristic) WriteWithoutResponse(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}
