package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/chaz8081/blelkdom-ctl/internal/ble"
	"github.com/chaz8081/blelkdom-ctl/internal/settings"
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
	styleLabel  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Width(12)
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F"))
)

func swatch(hex string) string {
	return lipgloss.NewStyle().Background(lipgloss.Color(hex)).Render("  ")
}

func renderState(s ble.DeviceState) string {
	device := styleDim.Render("none")
	if s.SelectedDevice != nil {
		device = fmt.Sprintf("%s %s", s.SelectedDevice.Name, styleDim.Render(s.SelectedDevice.ID))
	}
	link := styleDim.Render("disconnected")
	if s.Connected {
		link = styleOK.Render("connected")
	}
	power := "off"
	if s.PowerOn {
		power = "on"
	}
	return strings.Join([]string{
		styleLabel.Render("Strip") + device,
		styleLabel.Render("Link") + link,
		styleLabel.Render("Power") + power,
		styleLabel.Render("Color") + swatch(s.Color) + " " + s.Color,
		styleLabel.Render("Brightness") + fmt.Sprintf("%d%%", s.Brightness),
	}, "\n")
}

func renderDevices(devices []ble.DeviceSummary, selected *ble.SavedDevice) string {
	if len(devices) == 0 {
		return "No strips found."
	}
	var b strings.Builder
	b.WriteString(styleHeader.Render(fmt.Sprintf("%-2s %-28s %-8s %s", "", "NAME", "RSSI", "ID")))
	for _, d := range devices {
		mark := ""
		if selected != nil && selected.ID == d.ID {
			mark = "*"
		}
		rssi := "-"
		if d.RSSI != nil {
			rssi = fmt.Sprintf("%d", *d.RSSI)
		}
		fmt.Fprintf(&b, "\n%-2s %-28s %-8s %s", mark, d.Name, rssi, styleDim.Render(d.ID))
	}
	return b.String()
}

func renderPresets(presets []settings.Preset) string {
	if len(presets) == 0 {
		return "No presets."
	}
	var b strings.Builder
	b.WriteString(styleHeader.Render(fmt.Sprintf("%-4s %-20s %-8s %s", "", "LABEL", "COLOR", "ID")))
	for _, p := range presets {
		fmt.Fprintf(&b, "\n%s %-20s %-8s %s", swatch(p.Color)+"  ", p.Label, p.Color, styleDim.Render(p.ID))
	}
	return b.String()
}
