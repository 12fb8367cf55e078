package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/chaz8081/blelkdom-ctl/internal/hotkey"
	"github.com/chaz8081/blelkdom-ctl/internal/mqtt"
	"github.com/chaz8081/blelkdom-ctl/internal/tui"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep the strip connected and serve MQTT and hotkey commands",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()
			printBanner(a)

			if a.svc.SelectedDevice() != nil {
				if _, err := a.svc.Connect(ctx); err != nil {
					// Commands reconnect on demand.
					slog.Warn("initial connect failed", "error", err)
				}
			} else {
				slog.Warn("no strip selected; run 'blelkdom select' to pick one")
			}

			var bridgeDone <-chan struct{}
			if a.cfg.MQTT.Enabled {
				bridge, err := mqtt.Connect(a.cfg.MQTT, a.svc)
				if err != nil {
					return err
				}
				bridgeDone = bridge.Start(ctx)
			}

			if a.cfg.Hotkeys.Enabled {
				listener := hotkey.NewListener(hotkey.BindingsFromConfig(a.cfg.Hotkeys))
				go listener.Start()
				go hotkey.Dispatch(ctx, listener.Actions(), a.svc)
				// The listener is never stopped: gohook's C cleanup can crash
				// on exit, and the OS reclaims the event hook anyway.
			}

			slog.Info("serving, press Ctrl+C to quit")
			<-ctx.Done()
			slog.Info("shutting down")
			// The strip must still be reported offline before the app closes.
			if !waitStopped(bridgeDone, bridgeShutdownTimeout) {
				slog.Warn("mqtt bridge did not stop in time", "timeout", bridgeShutdownTimeout)
			}
			return nil
		}),
	}
}

// bridgeShutdownTimeout bounds the offline publish plus disconnect quiesce.
const bridgeShutdownTimeout = 10 * time.Second

// waitStopped waits for done to close. A nil channel counts as stopped.
func waitStopped(done <-chan struct{}, timeout time.Duration) bool {
	if done == nil {
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// printBanner displays the startup configuration summary.
func printBanner(a *app) {
	mode := "bluetooth"
	if a.svc.Simulated() {
		mode = "simulated"
	}
	strip := "none"
	if d := a.svc.SelectedDevice(); d != nil {
		strip = d.Name
	}
	mqttInfo := "off"
	if a.cfg.MQTT.Enabled {
		mqttInfo = fmt.Sprintf("%s (%s/#)", a.cfg.MQTT.Broker, a.cfg.MQTT.TopicPrefix)
	}
	hotkeys := "off"
	if a.cfg.Hotkeys.Enabled {
		var parts []string
		for _, b := range hotkey.BindingsFromConfig(a.cfg.Hotkeys) {
			parts = append(parts, fmt.Sprintf("%s=%s", b.Action, strings.Join(b.Keys, "+")))
		}
		hotkeys = strings.Join(parts, " ")
	}

	fmt.Println("=== blelkdom ===")
	fmt.Printf("  Mode:     %s\n", mode)
	fmt.Printf("  Strip:    %s\n", strip)
	fmt.Printf("  MQTT:     %s\n", mqttInfo)
	fmt.Printf("  Hotkeys:  %s\n", hotkeys)
	fmt.Printf("  Settings: %s\n", a.store.Path())
	fmt.Printf("  Log:      %s\n", a.cfg.LogLevel)
	fmt.Println("================")
}

func panelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "panel",
		Short: "Open the interactive control panel",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			// Log lines would tear the alternate screen.
			if a.cfg.LogLevel != "debug" {
				slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
			}
			p := tea.NewProgram(tui.New(a.svc), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err := p.Run()
			return err
		}),
	}
}
