package hotkey

import (
	"context"
	"errors"
	"testing"

	"github.com/chaz8081/blelkdom-ctl/internal/ble"
	"github.com/chaz8081/blelkdom-ctl/internal/config"
)

func TestBindingsFromConfig(t *testing.T) {
	cfg := config.Default().Hotkeys
	cfg.BrightnessDown = nil

	bindings := BindingsFromConfig(cfg)
	if len(bindings) != 2 {
		t.Fatalf("len(bindings) = %d, want 2", len(bindings))
	}
	if bindings[0].Action != ActionPowerToggle || bindings[1].Action != ActionBrightnessUp {
		t.Errorf("bindings = %+v", bindings)
	}
}

func TestActionString(t *testing.T) {
	if ActionBrightnessDown.String() != "brightness-down" {
		t.Errorf("String() = %q", ActionBrightnessDown.String())
	}
	if Action(99).String() != "unknown" {
		t.Errorf("String() = %q", Action(99).String())
	}
}

type fakeController struct {
	calls []string
}

func (c *fakeController) TogglePower(context.Context) (ble.DeviceState, error) {
	c.calls = append(c.calls, "toggle")
	return ble.DeviceState{}, errors.New("select a strip")
}

func (c *fakeController) BrightnessUp(context.Context) (ble.DeviceState, error) {
	c.calls = append(c.calls, "up")
	return ble.DeviceState{}, nil
}

func (c *fakeController) BrightnessDown(context.Context) (ble.DeviceState, error) {
	c.calls = append(c.calls, "down")
	return ble.DeviceState{}, nil
}

func TestDispatch(t *testing.T) {
	actions := make(chan Action, 3)
	actions <- ActionPowerToggle
	actions <- ActionBrightnessUp
	actions <- ActionBrightnessDown
	close(actions)

	ctl := &fakeController{}
	Dispatch(context.Background(), actions, ctl)

	want := []string{"toggle", "up", "down"}
	if len(ctl.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", ctl.calls, want)
	}
	for i := range want {
		if ctl.calls[i] != want[i] {
			t.Errorf("calls = %v, want %v", ctl.calls, want)
		}
	}
}

func TestDispatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	Dispatch(ctx, make(chan Action), &fakeController{})
}

func TestEmitDoesNotBlock(t *testing.T) {
	l := NewListener(nil)
	for range cap(l.ch) + 4 {
		l.emit(ActionBrightnessUp)
	}
	if len(l.ch) != cap(l.ch) {
		t.Errorf("len = %d, want %d", len(l.ch), cap(l.ch))
	}
}
