package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/chaz8081/blelkdom-ctl/internal/ble"
)

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(styleTitle.Render("BLELKDOM"))
	b.WriteString("\n")

	switch m.view {
	case viewDevices:
		b.WriteString(stylePanel.Render(m.renderDevices()))
	case viewColor:
		b.WriteString(stylePanel.Render(m.renderState() + "\n\n" + "Color " + m.input.View()))
	default:
		b.WriteString(stylePanel.Render(m.renderState() + m.renderPresets()))
	}
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(styleError.Render(errorText(m.err)))
	case m.busy:
		b.WriteString(styleHelp.Render(m.status + "..."))
	}
	b.WriteString("\n")
	b.WriteString(styleHelp.Render(m.help()))
	return b.String()
}

func (m Model) renderState() string {
	s := m.state
	device := "none"
	if s.SelectedDevice != nil {
		device = s.SelectedDevice.Name
	}
	link := styleDisconnected.Render("disconnected")
	if s.Connected {
		link = styleConnected.Render("connected")
	}
	power := "off"
	if s.PowerOn {
		power = "on"
	}

	rows := []string{
		row("Strip", styleValue.Render(device)+"  "+link),
		row("Power", styleValue.Render(power)),
		row("Color", swatch(s.Color)+" "+styleValue.Render(s.Color)),
		row("Brightness", styleValue.Render(fmt.Sprintf("%3d%% ", s.Brightness))+bar(s.Brightness)),
	}
	return strings.Join(rows, "\n")
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, styleLabel.Render(label), value)
}

// bar renders brightness as ten cells.
func bar(level int) string {
	filled := level / 10
	return strings.Repeat("█", filled) + styleHelp.Render(strings.Repeat("░", 10-filled))
}

func (m Model) renderPresets() string {
	if len(m.presets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n")
	for i, p := range m.presets {
		if i == 9 {
			break
		}
		fmt.Fprintf(&b, "%d %s %s\n", i+1, swatch(p.Color), p.Label)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderDevices() string {
	if len(m.devices) == 0 {
		if m.busy {
			return "Scanning for strips..."
		}
		return "No strips found. Press r to rescan."
	}
	var b strings.Builder
	for i, d := range m.devices {
		cursor := "  "
		name := d.Name
		if i == m.cursor {
			cursor = styleCursor.Render("> ")
			name = styleCursor.Render(name)
		}
		rssi := ""
		if d.RSSI != nil {
			rssi = fmt.Sprintf(" %d dBm", *d.RSSI)
		}
		fmt.Fprintf(&b, "%s%s%s\n", cursor, name, styleHelp.Render(rssi))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) help() string {
	switch m.view {
	case viewDevices:
		return "↑/↓ move • enter select • r rescan • esc back"
	case viewColor:
		return "enter apply • esc cancel"
	default:
		return "p power • +/- brightness • c color • 1-9 preset • d devices • q quit"
	}
}

func errorText(err error) string {
	if errors.Is(err, ble.ErrNoDeviceSelected) {
		return err.Error() + " (press d)"
	}
	return err.Error()
}
