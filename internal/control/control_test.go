package control

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/chaz8081/blelkdom-ctl/internal/ble"
	"github.com/chaz8081/blelkdom-ctl/internal/settings"
)

func newTestService(t *testing.T) (*Service, *settings.Store) {
	t.Helper()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	mgr := ble.New(nil, store, ble.Options{SimulatedLatency: time.Millisecond})
	svc := New(mgr, store)
	t.Cleanup(svc.Close)
	return svc, store
}

func selectSimulated(t *testing.T, svc *Service) {
	t.Helper()
	d := ble.SimulatedDevice.Saved()
	if _, err := svc.SaveSelectedDevice(context.Background(), &d); err != nil {
		t.Fatal(err)
	}
}

func TestCommandsRequireSelection(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SetPower(context.Background(), true)
	if !NeedsDeviceSelection(err) {
		t.Fatalf("err = %v, want device selection error", err)
	}
	if NeedsDeviceSelection(errors.New("other")) {
		t.Error("unrelated error reported as selection error")
	}
}

func TestSetColorReturnsState(t *testing.T) {
	svc, store := newTestService(t)
	selectSimulated(t, svc)

	state, err := svc.SetColor(context.Background(), "#00AAFF")
	if err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}
	if state.Color != "#00aaff" || !state.PowerOn || !state.Connected {
		t.Errorf("state = %+v", state)
	}
	if color, on := store.LastState(); color != "#00aaff" || !on {
		t.Errorf("persisted = (%q, %v)", color, on)
	}
}

func TestTogglePower(t *testing.T) {
	svc, _ := newTestService(t)
	selectSimulated(t, svc)

	state, err := svc.TogglePower(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !state.PowerOn {
		t.Error("first toggle should power on")
	}
	state, err = svc.TogglePower(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state.PowerOn {
		t.Error("second toggle should power off")
	}
}

func TestBrightness(t *testing.T) {
	svc, _ := newTestService(t)
	selectSimulated(t, svc)

	state, err := svc.BrightnessUp(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state.Brightness != 100 {
		t.Errorf("Brightness = %d, want 100", state.Brightness)
	}
	state, err = svc.BrightnessDown(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state.Brightness != 90 {
		t.Errorf("Brightness = %d, want 90", state.Brightness)
	}
}

func TestDiscoverAndSelect(t *testing.T) {
	svc, store := newTestService(t)

	devices, err := svc.DiscoverDevices(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 {
		t.Fatalf("devices = %v", devices)
	}
	d := devices[0].Saved()
	state, err := svc.SaveSelectedDevice(context.Background(), &d)
	if err != nil {
		t.Fatal(err)
	}
	if state.SelectedDevice == nil || state.SelectedDevice.ID != "simulated-led" {
		t.Errorf("SelectedDevice = %v", state.SelectedDevice)
	}
	if got := svc.SelectedDevice(); got == nil || *got != d {
		t.Errorf("SelectedDevice() = %v", got)
	}
	if got := store.SelectedDevice(); got == nil || got.ID != d.ID {
		t.Errorf("stored selection = %v", got)
	}
}

func TestConnectDisconnect(t *testing.T) {
	svc, _ := newTestService(t)
	selectSimulated(t, svc)

	state, err := svc.Connect(context.Background())
	if err != nil || !state.Connected {
		t.Fatalf("Connect() = %+v, %v", state, err)
	}
	state, err = svc.Disconnect(context.Background())
	if err != nil || state.Connected {
		t.Fatalf("Disconnect() = %+v, %v", state, err)
	}
}

func TestPresets(t *testing.T) {
	svc, _ := newTestService(t)
	selectSimulated(t, svc)

	p, err := svc.AddPreset("  Warm ", "FFAA33")
	if err != nil {
		t.Fatalf("AddPreset() error = %v", err)
	}
	if p.ID == "" || p.Label != "Warm" || p.Color != "#ffaa33" {
		t.Errorf("preset = %+v", p)
	}
	if _, err := svc.AddPreset("Bad", "#zzzzzz"); err == nil {
		t.Error("AddPreset() should reject invalid color")
	}
	if _, err := svc.AddPreset("", "#ffffff"); err == nil {
		t.Error("AddPreset() should reject empty label")
	}

	state, err := svc.ApplyPreset(context.Background(), "warm")
	if err != nil {
		t.Fatalf("ApplyPreset() error = %v", err)
	}
	if state.Color != "#ffaa33" {
		t.Errorf("Color = %q, want #ffaa33", state.Color)
	}

	if err := svc.RemovePreset(p.ID); err != nil {
		t.Fatalf("RemovePreset() error = %v", err)
	}
	if len(svc.CustomPresets()) != 0 {
		t.Error("preset not removed")
	}
	if err := svc.RemovePreset(p.ID); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("err = %v, want ErrPresetNotFound", err)
	}
	if _, err := svc.ApplyPreset(context.Background(), "warm"); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("err = %v, want ErrPresetNotFound", err)
	}
}

func TestSaveCustomPresetsValidates(t *testing.T) {
	svc, _ := newTestService(t)

	saved, err := svc.SaveCustomPresets([]settings.Preset{
		{Label: "Red", Color: "#FF0000"},
		{ID: "keep", Label: "Blue", Color: "0000ff"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved[0].ID == "" || saved[0].Color != "#ff0000" {
		t.Errorf("saved[0] = %+v", saved[0])
	}
	if saved[1].ID != "keep" || saved[1].Color != "#0000ff" {
		t.Errorf("saved[1] = %+v", saved[1])
	}
	if len(svc.CustomPresets()) != 2 {
		t.Errorf("CustomPresets() = %v", svc.CustomPresets())
	}

	if _, err := svc.SaveCustomPresets([]settings.Preset{{Label: "x", Color: "red"}}); err == nil {
		t.Error("expected invalid color error")
	}
	if len(svc.CustomPresets()) != 2 {
		t.Error("invalid save replaced presets")
	}
}

func TestSubscribeReceivesLatestState(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := svc.Subscribe(ctx)

	selectSimulated(t, svc)
	if _, err := svc.SetColor(context.Background(), "#123456"); err != nil {
		t.Fatal(err)
	}

	// Several snapshots were broadcast; only the newest is buffered.
	select {
	case s := <-ch:
		if s.Color != "#123456" {
			t.Errorf("Color = %q, want latest #123456", s.Color)
		}
	case <-time.After(time.Second):
		t.Fatal("no state received")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected extra snapshot")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestCloseClosesSubscriptions(t *testing.T) {
	svc, _ := newTestService(t)
	ch := svc.Subscribe(context.Background())
	svc.Close()

	if _, ok := <-ch; ok {
		t.Error("channel still open after Close")
	}
	if _, ok := <-svc.Subscribe(context.Background()); ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
}

func TestCloseReleasesBackgroundSubscriptions(t *testing.T) {
	svc, _ := newTestService(t)
	before := runtime.NumGoroutine()

	for range 20 {
		svc.Subscribe(context.Background())
	}
	svc.Close()

	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d after Close, want <= %d", runtime.NumGoroutine(), before)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
