package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chaz8081/blelkdom-ctl/internal/ble/protocol"
)

// Options configures Manager timing.
type Options struct {
	DiscoveryTimeout  time.Duration // per discovery attempt when the caller passes none
	ConnectTimeout    time.Duration // total budget of the full match pass
	QuickScanTimeout  time.Duration // per-attempt cap of the cached quick pass
	MinAttemptTimeout time.Duration // per-attempt floor of the full match pass
	SimulatedLatency  time.Duration // delay standing in for I/O in simulation mode
	WriteInterval     time.Duration // minimum spacing between frames, 0 disables pacing
	BrightnessStep    int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DiscoveryTimeout:  8 * time.Second,
		ConnectTimeout:    12 * time.Second,
		QuickScanTimeout:  5 * time.Second,
		MinAttemptTimeout: 3 * time.Second,
		SimulatedLatency:  180 * time.Millisecond,
		WriteInterval:     20 * time.Millisecond,
		BrightnessStep:    10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DiscoveryTimeout <= 0 {
		o.DiscoveryTimeout = d.DiscoveryTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.QuickScanTimeout <= 0 {
		o.QuickScanTimeout = d.QuickScanTimeout
	}
	if o.MinAttemptTimeout <= 0 {
		o.MinAttemptTimeout = d.MinAttemptTimeout
	}
	if o.SimulatedLatency < 0 {
		o.SimulatedLatency = 0
	}
	if o.BrightnessStep <= 0 {
		o.BrightnessStep = d.BrightnessStep
	}
	return o
}

// connectAttempt is the single in-flight connect. Concurrent callers wait on
// done and all observe err.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// Manager owns the strip connection and the DeviceState. All methods are
// safe for concurrent use; at most one connect attempt runs at a time.
type Manager struct {
	backend backend
	store   Store
	opts    Options
	limiter *rate.Limiter

	mu       sync.Mutex
	state    DeviceState
	inflight *connectAttempt

	// cmdMu serializes frame writes with their state updates.
	cmdMu sync.Mutex

	listenerMu     sync.Mutex
	nextListener   int
	stateListeners map[int]func(DeviceState)
	connListeners  map[int]func(bool)
}

// New creates a Manager. A nil adapter selects simulation mode. A nil store
// keeps state in memory only.
func New(adapter Adapter, store Store, opts Options) *Manager {
	opts = opts.withDefaults()
	if store == nil {
		store = NewMemoryStore()
	}
	cache := newDiscoveryCache()

	var b backend
	if adapter == nil {
		slog.Info("[BLE] no adapter available, running in simulation mode")
		b = &simulatedBackend{cache: cache, latency: opts.SimulatedLatency}
	} else {
		b = newHardwareBackend(adapter, cache, ScanTimeouts{
			Total:      opts.ConnectTimeout,
			Quick:      opts.QuickScanTimeout,
			MinAttempt: opts.MinAttemptTimeout,
		})
	}

	limit := rate.Inf
	if opts.WriteInterval > 0 {
		limit = rate.Every(opts.WriteInterval)
	}

	color, powerOn := store.LastState()
	m := &Manager{
		backend: b,
		store:   store,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		state: DeviceState{
			PowerOn:    powerOn,
			Color:      color,
			Brightness: protocol.MaxBrightness,
		},
		stateListeners: make(map[int]func(DeviceState)),
		connListeners:  make(map[int]func(bool)),
	}
	if saved := store.SelectedDevice(); saved != nil {
		d := *saved
		m.state.SelectedDevice = &d
	}
	return m
}

// Simulated reports whether the manager runs without hardware.
func (m *Manager) Simulated() bool {
	return m.backend.Simulated()
}

// State returns a copy of the current device state.
func (m *Manager) State() DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// OnStateChange registers fn for state snapshots. The returned func unsubscribes.
func (m *Manager) OnStateChange(fn func(DeviceState)) func() {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	id := m.nextListener
	m.nextListener++
	m.stateListeners[id] = fn
	return func() {
		m.listenerMu.Lock()
		defer m.listenerMu.Unlock()
		delete(m.stateListeners, id)
	}
}

// OnConnectionChange registers fn for connected/disconnected transitions.
func (m *Manager) OnConnectionChange(fn func(bool)) func() {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	id := m.nextListener
	m.nextListener++
	m.connListeners[id] = fn
	return func() {
		m.listenerMu.Lock()
		defer m.listenerMu.Unlock()
		delete(m.connListeners, id)
	}
}

func (m *Manager) emitState(s DeviceState) {
	m.listenerMu.Lock()
	fns := make([]func(DeviceState), 0, len(m.stateListeners))
	for _, fn := range m.stateListeners {
		fns = append(fns, fn)
	}
	m.listenerMu.Unlock()
	for _, fn := range fns {
		fn(s.Clone())
	}
}

func (m *Manager) emitConnection(connected bool) {
	m.listenerMu.Lock()
	fns := make([]func(bool), 0, len(m.connListeners))
	for _, fn := range m.connListeners {
		fns = append(fns, fn)
	}
	m.listenerMu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

// Discover scans for strips. A zero timeout uses Options.DiscoveryTimeout
// per scan attempt.
func (m *Manager) Discover(ctx context.Context, timeout time.Duration) ([]DeviceSummary, error) {
	if timeout <= 0 {
		timeout = m.opts.DiscoveryTimeout
	}
	saved := m.State().SelectedDevice
	slog.Info("[BLE] discovering devices", "timeout", timeout)
	devices, err := m.backend.Discover(ctx, timeout, saved)
	if err != nil {
		return nil, err
	}
	slog.Info("[BLE] discovery complete", "count", len(devices))
	return devices, nil
}

// SelectDevice persists device as the strip to control. Clearing the
// selection disconnects.
func (m *Manager) SelectDevice(ctx context.Context, device *SavedDevice) (DeviceState, error) {
	if err := m.store.SetSelectedDevice(device); err != nil {
		return m.State(), fmt.Errorf("ble: save selected device: %w", err)
	}

	m.mu.Lock()
	if device != nil {
		d := *device
		m.state.SelectedDevice = &d
	} else {
		m.state.SelectedDevice = nil
	}
	m.mu.Unlock()

	if device == nil {
		if err := m.Disconnect(ctx); err != nil {
			return m.State(), err
		}
	}

	snap := m.State()
	m.emitState(snap)
	return snap, nil
}

// Connect attaches the saved device. It is a no-op when already connected,
// and joins the running attempt when one is in flight.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Connected {
		m.mu.Unlock()
		return nil
	}
	a := m.inflight
	if a == nil {
		if m.state.SelectedDevice == nil {
			m.mu.Unlock()
			return ErrNoDeviceSelected
		}
		target := *m.state.SelectedDevice
		a = &connectAttempt{done: make(chan struct{})}
		m.inflight = a
		// The attempt outlives a cancelled first caller so joiners still get its outcome.
		go m.runConnect(context.WithoutCancel(ctx), target, a)
	}
	m.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) runConnect(ctx context.Context, target SavedDevice, a *connectAttempt) {
	slog.Info("[BLE] connecting to saved device", "id", target.ID, "name", target.Name)
	err := m.backend.Connect(ctx, target, m.handleDrop)

	// A drop that lands before Connected is set finds nothing to clear, so
	// the link is checked again under the state lock.
	m.mu.Lock()
	if err == nil && !m.backend.Attached() {
		err = fmt.Errorf("ble: %s dropped while connecting: %w", target.ID, ErrNotConnected)
	}
	if err == nil {
		m.state.Connected = true
	}
	snap := m.state.Clone()
	m.inflight = nil
	a.err = err
	m.mu.Unlock()

	if err == nil {
		slog.Info("[BLE] connected", "id", target.ID)
		m.emitConnection(true)
		m.emitState(snap)
	} else {
		slog.Warn("[BLE] connect failed", "id", target.ID, "error", err)
	}
	close(a.done)
}

// handleDrop runs when the peripheral disconnects on its own.
func (m *Manager) handleDrop() {
	m.setDisconnected()
}

func (m *Manager) setDisconnected() {
	m.mu.Lock()
	if !m.state.Connected {
		m.mu.Unlock()
		return
	}
	m.state.Connected = false
	snap := m.state.Clone()
	m.mu.Unlock()

	m.emitConnection(false)
	m.emitState(snap)
}

// Disconnect waits for any in-flight connect to settle, tears down the
// connection and marks the state disconnected. Calling it twice is harmless.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	a := m.inflight
	m.mu.Unlock()
	if a != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.backend.Disconnect(ctx)
	m.setDisconnected()
	return nil
}

// EnsureConnected connects to the saved device unless already connected.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.mu.Lock()
	selected := m.state.SelectedDevice != nil
	connected := m.state.Connected
	m.mu.Unlock()

	if !selected {
		return ErrNoDeviceSelected
	}
	if connected {
		return nil
	}
	return m.Connect(ctx)
}

// SetPower switches the strip on or off.
func (m *Manager) SetPower(ctx context.Context, on bool) error {
	if err := m.EnsureConnected(ctx); err != nil {
		return err
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	if err := m.write(ctx, protocol.Power(on)); err != nil {
		return err
	}

	m.mu.Lock()
	m.state.PowerOn = on
	snap := m.state.Clone()
	m.mu.Unlock()

	m.persist(snap)
	m.emitState(snap)
	return nil
}

// SetColor sets a static "#RRGGBB" color, which also turns the strip on.
func (m *Manager) SetColor(ctx context.Context, hexColor string) error {
	color, err := protocol.NormalizeHexColor(hexColor)
	if err != nil {
		return err
	}
	frame, err := protocol.ColorHex(color)
	if err != nil {
		return err
	}
	if err := m.EnsureConnected(ctx); err != nil {
		return err
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	if err := m.write(ctx, frame); err != nil {
		return err
	}

	m.mu.Lock()
	m.state.Color = color
	m.state.PowerOn = true
	snap := m.state.Clone()
	m.mu.Unlock()

	m.persist(snap)
	m.emitState(snap)
	return nil
}

// IncreaseBrightness raises brightness by one step, capped at 100.
func (m *Manager) IncreaseBrightness(ctx context.Context) error {
	return m.stepBrightness(ctx, m.opts.BrightnessStep)
}

// DecreaseBrightness lowers brightness by one step, floored at 0.
func (m *Manager) DecreaseBrightness(ctx context.Context) error {
	return m.stepBrightness(ctx, -m.opts.BrightnessStep)
}

func (m *Manager) stepBrightness(ctx context.Context, delta int) error {
	if err := m.EnsureConnected(ctx); err != nil {
		return err
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	level := protocol.ClampBrightness(m.state.Brightness + delta)
	m.mu.Unlock()

	if err := m.write(ctx, protocol.Brightness(level)); err != nil {
		return err
	}

	m.mu.Lock()
	m.state.Brightness = level
	snap := m.state.Clone()
	m.mu.Unlock()

	m.emitState(snap)
	return nil
}

func (m *Manager) write(ctx context.Context, frame protocol.Frame) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ble: write: %w", err)
	}
	slog.Debug("[BLE] write", "frame", frame.String())
	return m.backend.Write(ctx, frame.Bytes())
}

// persist stores the last color and power. A failed save does not undo a
// command the strip already applied.
func (m *Manager) persist(s DeviceState) {
	if err := m.store.PersistState(s.Color, s.PowerOn); err != nil {
		slog.Warn("[BLE] failed to persist state", "error", err)
	}
}
