// Package tui is a terminal control panel for the strip. It connects when
// opened and disconnects when closed.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/chaz8081/blelkdom-ctl/internal/ble"
	"github.com/chaz8081/blelkdom-ctl/internal/settings"
)

// Controller is the command surface the panel drives.
type Controller interface {
	State() ble.DeviceState
	Connect(ctx context.Context) (ble.DeviceState, error)
	Disconnect(ctx context.Context) (ble.DeviceState, error)
	TogglePower(ctx context.Context) (ble.DeviceState, error)
	SetColor(ctx context.Context, color string) (ble.DeviceState, error)
	BrightnessUp(ctx context.Context) (ble.DeviceState, error)
	BrightnessDown(ctx context.Context) (ble.DeviceState, error)
	ApplyPreset(ctx context.Context, ref string) (ble.DeviceState, error)
	CustomPresets() []settings.Preset
	DiscoverDevices(ctx context.Context, timeout time.Duration) ([]ble.DeviceSummary, error)
	SaveSelectedDevice(ctx context.Context, device *ble.SavedDevice) (ble.DeviceState, error)
	Subscribe(ctx context.Context) <-chan ble.DeviceState
}

// commandTimeout bounds one panel action, which may include a full connect.
const commandTimeout = 30 * time.Second

type view int

const (
	viewMain view = iota
	viewDevices
	viewColor
)

// stateMsg carries a pushed or returned state snapshot.
type stateMsg ble.DeviceState

// resultMsg is the outcome of a command.
type resultMsg struct {
	state ble.DeviceState
	err   error
}

// devicesMsg is a discovery result.
type devicesMsg struct {
	devices []ble.DeviceSummary
	err     error
}

// shared holds what every Model copy must see.
type shared struct {
	ctl     Controller
	updates <-chan ble.DeviceState
	cancel  context.CancelFunc
}

// Model is the root Bubble Tea model.
type Model struct {
	shared *shared

	state   ble.DeviceState
	presets []settings.Preset
	devices []ble.DeviceSummary
	cursor  int
	view    view
	busy    bool
	status  string
	err     error
	input   textinput.Model
	width   int
}

// New creates a panel for ctl.
func New(ctl Controller) Model {
	ctx, cancel := context.WithCancel(context.Background())
	ti := textinput.New()
	ti.Placeholder = "#ff8800"
	ti.CharLimit = 7
	ti.Width = 10

	return Model{
		shared: &shared{
			ctl:     ctl,
			updates: ctl.Subscribe(ctx),
			cancel:  cancel,
		},
		state:   ctl.State(),
		presets: ctl.CustomPresets(),
		input:   ti,
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.waitForState()}
	if m.state.SelectedDevice != nil {
		cmds = append(cmds, m.run(m.shared.ctl.Connect))
	}
	return tea.Batch(cmds...)
}

// waitForState delivers the next pushed snapshot.
func (m Model) waitForState() tea.Cmd {
	ch := m.shared.updates
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return stateMsg(s)
	}
}

func (m Model) run(fn func(context.Context) (ble.DeviceState, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		s, err := fn(ctx)
		return resultMsg{state: s, err: err}
	}
}

func (m Model) discover() tea.Cmd {
	ctl := m.shared.ctl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		devices, err := ctl.DiscoverDevices(ctx, 0)
		return devicesMsg{devices: devices, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case stateMsg:
		m.state = ble.DeviceState(msg)
		return m, m.waitForState()

	case resultMsg:
		m.busy = false
		m.err = msg.err
		if msg.err == nil {
			m.state = msg.state
			m.status = ""
		}
		return m, nil

	case devicesMsg:
		m.busy = false
		m.err = msg.err
		m.devices = msg.devices
		m.cursor = 0
		m.status = ""
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case viewDevices:
			return m.handleDeviceKey(msg)
		case viewColor:
			return m.handleColorKey(msg)
		default:
			return m.handleKey(msg)
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctl := m.shared.ctl
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, m.quit()
	case "p", " ":
		return m.start("switching power", m.run(ctl.TogglePower))
	case "+", "=", "up":
		return m.start("brightening", m.run(ctl.BrightnessUp))
	case "-", "down":
		return m.start("dimming", m.run(ctl.BrightnessDown))
	case "c":
		m.view = viewColor
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink
	case "d":
		m.view = viewDevices
		return m.start("scanning", m.discover())
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		i := int(msg.String()[0] - '1')
		if i >= len(m.presets) {
			return m, nil
		}
		id := m.presets[i].ID
		return m.start("applying "+m.presets[i].Label, m.run(func(ctx context.Context) (ble.DeviceState, error) {
			return ctl.ApplyPreset(ctx, id)
		}))
	}
	return m, nil
}

func (m Model) handleColorKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.view = viewMain
		m.input.Blur()
		return m, nil
	case "enter":
		color := m.input.Value()
		m.view = viewMain
		m.input.Blur()
		ctl := m.shared.ctl
		return m.start("setting color", m.run(func(ctx context.Context) (ble.DeviceState, error) {
			return ctl.SetColor(ctx, color)
		}))
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleDeviceKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.view = viewMain
		return m, nil
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.devices)-1 {
			m.cursor++
		}
	case "r":
		return m.start("scanning", m.discover())
	case "enter":
		if len(m.devices) == 0 || m.busy {
			return m, nil
		}
		d := m.devices[m.cursor].Saved()
		m.view = viewMain
		ctl := m.shared.ctl
		return m.start("connecting to "+d.Name, m.run(func(ctx context.Context) (ble.DeviceState, error) {
			if _, err := ctl.SaveSelectedDevice(ctx, &d); err != nil {
				return ble.DeviceState{}, err
			}
			return ctl.Connect(ctx)
		}))
	}
	return m, nil
}

func (m Model) start(status string, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.status = status
	m.err = nil
	return m, cmd
}

// quit disconnects the strip and stops the subscription before exiting.
func (m Model) quit() tea.Cmd {
	ctl := m.shared.ctl
	cancel := m.shared.cancel
	return tea.Sequence(
		func() tea.Msg {
			ctx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_, _ = ctl.Disconnect(ctx)
			cancel()
			return nil
		},
		tea.Quit,
	)
}
