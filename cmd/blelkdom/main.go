// Command blelkdom controls BLELKDOM LED strips over Bluetooth Low Energy.
//
// Usage:
//
//	blelkdom discover
//	blelkdom select "BLELKDOM-01"
//	blelkdom color "#ff8800"
//	blelkdom serve
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blelkdom-ctl/internal/ble"
	"github.com/chaz8081/blelkdom-ctl/internal/config"
	"github.com/chaz8081/blelkdom-ctl/internal/control"
	"github.com/chaz8081/blelkdom-ctl/internal/settings"
)

var (
	flagConfig   string
	flagSimulate bool
	flagLogLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "blelkdom",
		Short: "Control BLELKDOM LED strips over Bluetooth Low Energy",
		Long: `blelkdom discovers BLELKDOM LED strips, remembers the one you select and
sends it power, color and brightness commands.

Without a usable Bluetooth adapter it falls back to a simulated strip
(see ble.mode in the config file, or pass --simulate).`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (default: ~/.config/blelkdom/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagSimulate, "simulate", false, "use a simulated strip instead of Bluetooth")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(
		discoverCmd(),
		selectCmd(),
		forgetCmd(),
		stateCmd(),
		powerCmd(),
		colorCmd(),
		brighterCmd(),
		dimmerCmd(),
		presetsCmd(),
		serveCmd(),
		panelCmd(),
		initConfigCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if control.NeedsDeviceSelection(err) {
			fmt.Fprintln(os.Stderr, "Run 'blelkdom discover' and 'blelkdom select <name>' first.")
		}
		os.Exit(1)
	}
}

// app is the wired object graph shared by every command.
type app struct {
	cfg   *config.Config
	store *settings.Store
	mgr   *ble.Manager
	svc   *control.Service
}

func newApp() (*app, error) {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flagSimulate {
		cfg.BLE.Mode = config.ModeSimulate
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	setupLogging(cfg.LogLevel)

	store, err := settings.Open(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}

	adapter, err := openAdapter(cfg.BLE.Mode)
	if err != nil {
		return nil, err
	}

	mgr := ble.New(adapter, store, ble.Options{
		DiscoveryTimeout:  cfg.BLE.DiscoveryTimeout,
		ConnectTimeout:    cfg.BLE.ConnectTimeout,
		QuickScanTimeout:  cfg.BLE.QuickScanTimeout,
		MinAttemptTimeout: cfg.BLE.MinAttemptTimeout,
		SimulatedLatency:  cfg.BLE.SimulatedLatency,
		WriteInterval:     cfg.BLE.WriteInterval,
		BrightnessStep:    cfg.BLE.BrightnessStep,
	})
	return &app{cfg: cfg, store: store, mgr: mgr, svc: control.New(mgr, store)}, nil
}

// close disconnects the strip so one-shot commands leave no link behind.
func (a *app) close(ctx context.Context) {
	if _, err := a.svc.Disconnect(context.WithoutCancel(ctx)); err != nil {
		slog.Debug("disconnect on exit", "error", err)
	}
	a.svc.Close()
}

// openAdapter returns nil for simulation. In auto mode a missing Bluetooth
// stack also means simulation.
func openAdapter(mode string) (ble.Adapter, error) {
	if mode == config.ModeSimulate {
		return nil, nil
	}
	adapter, err := ble.OpenTinyGoAdapter()
	if err == nil {
		return adapter, nil
	}
	if mode == config.ModeHardware {
		return nil, fmt.Errorf("%w: %w", ble.ErrAdapterUnavailable, err)
	}
	slog.Warn("Bluetooth unavailable, using simulated strip", "error", err)
	return nil, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}
	return config.Default(), nil
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// withApp wires the app for a command and tears it down afterwards.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())
		err = fn(cmd, args, a)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}
