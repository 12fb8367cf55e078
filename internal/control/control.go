// Package control is the UI-facing command surface over a ble.Manager. Every
// command resolves with a state snapshot or a descriptive error.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chaz8081/blelkdom-ctl/internal/ble"
	"github.com/chaz8081/blelkdom-ctl/internal/ble/protocol"
	"github.com/chaz8081/blelkdom-ctl/internal/settings"
)

// PresetStore persists custom color presets.
type PresetStore interface {
	CustomPresets() []settings.Preset
	SaveCustomPresets(presets []settings.Preset) error
}

// ErrPresetNotFound is returned when no preset has the given id or label.
var ErrPresetNotFound = errors.New("preset not found")

// NeedsDeviceSelection reports whether err means the user must pick a strip first.
func NeedsDeviceSelection(err error) bool {
	return errors.Is(err, ble.ErrNoDeviceSelected)
}

// Service exposes strip commands, device selection, presets and state
// broadcasts.
type Service struct {
	mgr     *ble.Manager
	presets PresetStore

	presetMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]chan ble.DeviceState
	nextSub int
	closed  bool
	done    chan struct{} // closed by Close
	unwatch func()
}

// New wires a Service to mgr. Every state change of mgr is fanned out to
// Subscribe channels.
func New(mgr *ble.Manager, presets PresetStore) *Service {
	s := &Service{
		mgr:     mgr,
		presets: presets,
		subs:    make(map[int]chan ble.DeviceState),
		done:    make(chan struct{}),
	}
	s.unwatch = mgr.OnStateChange(s.broadcast)
	return s
}

// Simulated reports whether no real adapter is in use.
func (s *Service) Simulated() bool { return s.mgr.Simulated() }

// State returns the current strip state.
func (s *Service) State() ble.DeviceState { return s.mgr.State() }

// SetPower switches the strip on or off.
func (s *Service) SetPower(ctx context.Context, on bool) (ble.DeviceState, error) {
	if err := s.mgr.SetPower(ctx, on); err != nil {
		return s.mgr.State(), err
	}
	return s.mgr.State(), nil
}

// SetColor sets a "#RRGGBB" color.
func (s *Service) SetColor(ctx context.Context, color string) (ble.DeviceState, error) {
	if err := s.mgr.SetColor(ctx, color); err != nil {
		return s.mgr.State(), err
	}
	return s.mgr.State(), nil
}

// BrightnessUp raises brightness one step.
func (s *Service) BrightnessUp(ctx context.Context) (ble.DeviceState, error) {
	if err := s.mgr.IncreaseBrightness(ctx); err != nil {
		return s.mgr.State(), err
	}
	return s.mgr.State(), nil
}

// BrightnessDown lowers brightness one step.
func (s *Service) BrightnessDown(ctx context.Context) (ble.DeviceState, error) {
	if err := s.mgr.DecreaseBrightness(ctx); err != nil {
		return s.mgr.State(), err
	}
	return s.mgr.State(), nil
}

// TogglePower inverts the last known power state.
func (s *Service) TogglePower(ctx context.Context) (ble.DeviceState, error) {
	return s.SetPower(ctx, !s.mgr.State().PowerOn)
}

// DiscoverDevices scans for strips. A zero timeout uses the configured default.
func (s *Service) DiscoverDevices(ctx context.Context, timeout time.Duration) ([]ble.DeviceSummary, error) {
	return s.mgr.Discover(ctx, timeout)
}

// SaveSelectedDevice selects device, or clears the selection when nil.
func (s *Service) SaveSelectedDevice(ctx context.Context, device *ble.SavedDevice) (ble.DeviceState, error) {
	return s.mgr.SelectDevice(ctx, device)
}

// SelectedDevice returns the selected strip, or nil.
func (s *Service) SelectedDevice() *ble.SavedDevice {
	return s.mgr.State().SelectedDevice
}

// Connect attaches the selected strip.
func (s *Service) Connect(ctx context.Context) (ble.DeviceState, error) {
	if err := s.mgr.Connect(ctx); err != nil {
		return s.mgr.State(), err
	}
	return s.mgr.State(), nil
}

// Disconnect detaches the strip.
func (s *Service) Disconnect(ctx context.Context) (ble.DeviceState, error) {
	if err := s.mgr.Disconnect(ctx); err != nil {
		return s.mgr.State(), err
	}
	return s.mgr.State(), nil
}

// CustomPresets returns the saved presets.
func (s *Service) CustomPresets() []settings.Preset {
	return s.presets.CustomPresets()
}

// SaveCustomPresets replaces all presets after validating their colors.
func (s *Service) SaveCustomPresets(presets []settings.Preset) ([]settings.Preset, error) {
	out := make([]settings.Preset, 0, len(presets))
	for _, p := range presets {
		color, err := protocol.NormalizeHexColor(p.Color)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", p.Label, err)
		}
		if p.ID == "" {
			p.ID = newID()
		}
		p.Color = color
		out = append(out, p)
	}

	s.presetMu.Lock()
	defer s.presetMu.Unlock()
	if err := s.presets.SaveCustomPresets(out); err != nil {
		return nil, fmt.Errorf("saving presets: %w", err)
	}
	return out, nil
}

// AddPreset appends a new preset.
func (s *Service) AddPreset(label, color string) (settings.Preset, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return settings.Preset{}, errors.New("preset label must not be empty")
	}
	normalized, err := protocol.NormalizeHexColor(color)
	if err != nil {
		return settings.Preset{}, err
	}
	p := settings.Preset{ID: newID(), Label: label, Color: normalized}

	s.presetMu.Lock()
	defer s.presetMu.Unlock()
	presets := append(s.presets.CustomPresets(), p)
	if err := s.presets.SaveCustomPresets(presets); err != nil {
		return settings.Preset{}, fmt.Errorf("saving presets: %w", err)
	}
	slog.Info("[Control] preset added", "id", p.ID, "label", p.Label, "color", p.Color)
	return p, nil
}

// RemovePreset deletes the preset with the given id or label.
func (s *Service) RemovePreset(ref string) error {
	s.presetMu.Lock()
	defer s.presetMu.Unlock()

	presets := s.presets.CustomPresets()
	i := findPreset(presets, ref)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrPresetNotFound, ref)
	}
	presets = append(presets[:i], presets[i+1:]...)
	if err := s.presets.SaveCustomPresets(presets); err != nil {
		return fmt.Errorf("saving presets: %w", err)
	}
	return nil
}

// ApplyPreset sets the strip to the color of the preset with the given id or label.
func (s *Service) ApplyPreset(ctx context.Context, ref string) (ble.DeviceState, error) {
	presets := s.presets.CustomPresets()
	i := findPreset(presets, ref)
	if i < 0 {
		return s.mgr.State(), fmt.Errorf("%w: %q", ErrPresetNotFound, ref)
	}
	return s.SetColor(ctx, presets[i].Color)
}

// findPreset matches ids exactly and labels case-insensitively.
func findPreset(presets []settings.Preset, ref string) int {
	ref = strings.TrimSpace(ref)
	for i, p := range presets {
		if p.ID == ref {
			return i
		}
	}
	for i, p := range presets {
		if strings.EqualFold(p.Label, ref) {
			return i
		}
	}
	return -1
}

// Subscribe returns a channel of state snapshots. A slow reader only sees the
// latest snapshot. The channel closes when ctx ends or the Service is closed.
func (s *Service) Subscribe(ctx context.Context) <-chan ble.DeviceState {
	ch := make(chan ble.DeviceState, 1)

	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		close(ch)
		return ch
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}()
	return ch
}

func (s *Service) broadcast(state ble.DeviceState) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		// Drop the stale snapshot, if any, so the newest always fits.
		select {
		case <-ch:
		default:
		}
		ch <- state.Clone()
	}
}

// Close stops broadcasting and closes every subscription channel.
func (s *Service) Close() {
	s.unwatch()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
