package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blelkdom-ctl/internal/ble"
	"github.com/chaz8081/blelkdom-ctl/internal/config"
	"github.com/chaz8081/blelkdom-ctl/internal/mqtt"
)

func discoverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Scan for nearby strips",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			devices, err := a.svc.DiscoverDevices(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDevices(devices, a.svc.SelectedDevice()))
			return nil
		}),
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-attempt scan timeout (default from config)")
	return cmd
}

func selectCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "select <id|name>",
		Short: "Discover and remember the strip to control",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			devices, err := a.svc.DiscoverDevices(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			d, ok := findDevice(devices, args[0])
			if !ok {
				return fmt.Errorf("no strip named %q found (%d devices seen)", args[0], len(devices))
			}
			saved := d.Saved()
			state, err := a.svc.SaveSelectedDevice(cmd.Context(), &saved)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderState(state))
			return nil
		}),
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-attempt scan timeout (default from config)")
	return cmd
}

// findDevice matches ids exactly and names case-insensitively.
func findDevice(devices []ble.DeviceSummary, ref string) (ble.DeviceSummary, bool) {
	for _, d := range devices {
		if d.ID == ref {
			return d, true
		}
	}
	for _, d := range devices {
		if strings.EqualFold(strings.TrimSpace(d.Name), strings.TrimSpace(ref)) {
			return d, true
		}
	}
	return ble.DeviceSummary{}, false
}

func forgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Clear the selected strip",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			state, err := a.svc.SaveSelectedDevice(cmd.Context(), nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderState(state))
			return nil
		}),
	}
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the last known strip state",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			fmt.Fprintln(cmd.OutOrStdout(), renderState(a.svc.State()))
			return nil
		}),
	}
}

func powerCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "power on|off",
		Short:     "Switch the strip on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			on, err := mqtt.ParsePower(args[0])
			if err != nil {
				return err
			}
			state, err := a.svc.SetPower(cmd.Context(), on)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderState(state))
			return nil
		}),
	}
}

func colorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "color <#RRGGBB>",
		Short: "Set a static color (turns the strip on)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			state, err := a.svc.SetColor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderState(state))
			return nil
		}),
	}
}

func brighterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "brighter",
		Short: "Raise brightness one step",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			state, err := a.svc.BrightnessUp(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderState(state))
			return nil
		}),
	}
}

func dimmerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dimmer",
		Short: "Lower brightness one step",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			state, err := a.svc.BrightnessDown(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderState(state))
			return nil
		}),
	}
}

func presetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Manage custom color presets",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List presets",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			fmt.Fprintln(cmd.OutOrStdout(), renderPresets(a.svc.CustomPresets()))
			return nil
		}),
	}

	add := &cobra.Command{
		Use:   "add <label> <#RRGGBB>",
		Short: "Add a preset",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			p, err := a.svc.AddPreset(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s (%s)\n", p.Label, p.Color, p.ID)
			return nil
		}),
	}

	rm := &cobra.Command{
		Use:     "rm <id|label>",
		Aliases: []string{"remove"},
		Short:   "Remove a preset",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			return a.svc.RemovePreset(args[0])
		}),
	}

	apply := &cobra.Command{
		Use:   "apply <id|label>",
		Short: "Set the strip to a preset color",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			state, err := a.svc.ApplyPreset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderState(state))
			return nil
		}),
	}

	cmd.AddCommand(list, add, rm, apply)
	return cmd
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.WriteDefault()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s\n", config.DefaultConfigPath())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
}
