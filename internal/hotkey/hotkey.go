// Package hotkey provides global strip shortcuts using gohook. Each key
// combo is bound to one Action, emitted on key down.
package hotkey

import (
	"context"
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"

	"github.com/chaz8081/blelkdom-ctl/internal/ble"
	"github.com/chaz8081/blelkdom-ctl/internal/config"
)

// Action is a strip command triggered by a shortcut.
type Action int

const (
	ActionPowerToggle Action = iota
	ActionBrightnessUp
	ActionBrightnessDown
)

func (a Action) String() string {
	switch a {
	case ActionPowerToggle:
		return "power-toggle"
	case ActionBrightnessUp:
		return "brightness-up"
	case ActionBrightnessDown:
		return "brightness-down"
	default:
		return "unknown"
	}
}

// Binding ties a key combo to an action.
// Keys are lowercase key names (e.g., ["ctrl", "alt", "l"]).
type Binding struct {
	Action Action
	Keys   []string
}

// BindingsFromConfig returns the configured bindings, skipping empty combos.
func BindingsFromConfig(cfg config.HotkeysConfig) []Binding {
	var out []Binding
	for _, b := range []Binding{
		{ActionPowerToggle, cfg.PowerToggle},
		{ActionBrightnessUp, cfg.BrightnessUp},
		{ActionBrightnessDown, cfg.BrightnessDown},
	} {
		if len(b.Keys) > 0 {
			out = append(out, b)
		}
	}
	return out
}

// Listener manages the global hotkeys and emits actions.
type Listener struct {
	bindings []Binding
	ch       chan Action
	done     chan struct{}
	once     sync.Once
}

// NewListener creates a Listener for bindings.
func NewListener(bindings []Binding) *Listener {
	return &Listener{
		bindings: bindings,
		ch:       make(chan Action, 16),
		done:     make(chan struct{}),
	}
}

// Actions returns the channel that receives triggered actions.
// The channel is closed when Stop is called.
func (l *Listener) Actions() <-chan Action {
	return l.ch
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	for _, b := range l.bindings {
		action := b.Action
		hook.Register(hook.KeyDown, b.Keys, func(e hook.Event) {
			l.emit(action)
		})
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

func (l *Listener) emit(a Action) {
	select {
	case l.ch <- a:
	default: // don't block if channel is full
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

// Controller is what the actions drive.
type Controller interface {
	TogglePower(ctx context.Context) (ble.DeviceState, error)
	BrightnessUp(ctx context.Context) (ble.DeviceState, error)
	BrightnessDown(ctx context.Context) (ble.DeviceState, error)
}

// Dispatch runs actions against ctl until the channel closes or ctx ends.
// Failures are logged; a shortcut has nowhere to report them.
func Dispatch(ctx context.Context, actions <-chan Action, ctl Controller) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-actions:
			if !ok {
				return
			}
			var err error
			switch a {
			case ActionPowerToggle:
				_, err = ctl.TogglePower(ctx)
			case ActionBrightnessUp:
				_, err = ctl.BrightnessUp(ctx)
			case ActionBrightnessDown:
				_, err = ctl.BrightnessDown(ctx)
			}
			if err != nil {
				slog.Warn("[Hotkey] action failed", "action", a, "error", err)
			} else {
				slog.Debug("[Hotkey] action done", "action", a)
			}
		}
	}
}
