package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	SettingsPath string        `yaml:"settings_path"`
	LogLevel     string        `yaml:"log_level"`
	BLE          BLEConfig     `yaml:"ble"`
	MQTT         MQTTConfig    `yaml:"mqtt"`
	Hotkeys      HotkeysConfig `yaml:"hotkeys"`
}

// BLEConfig holds strip connection settings.
type BLEConfig struct {
	Mode              string        `yaml:"mode"` // "auto", "hardware" or "simulate"
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	QuickScanTimeout  time.Duration `yaml:"quick_scan_timeout"`
	MinAttemptTimeout time.Duration `yaml:"min_attempt_timeout"`
	SimulatedLatency  time.Duration `yaml:"simulated_latency"`
	WriteInterval     time.Duration `yaml:"write_interval"`
	BrightnessStep    int           `yaml:"brightness_step"`
}

// MQTTConfig holds the optional MQTT bridge settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// HotkeysConfig maps global shortcuts to strip actions.
type HotkeysConfig struct {
	Enabled        bool     `yaml:"enabled"`
	PowerToggle    []string `yaml:"power_toggle"`
	BrightnessUp   []string `yaml:"brightness_up"`
	BrightnessDown []string `yaml:"brightness_down"`
}

// BLE modes.
const (
	ModeAuto     = "auto"
	ModeHardware = "hardware"
	ModeSimulate = "simulate"
)

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blelkdom")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		SettingsPath: filepath.Join(DefaultConfigDir(), "settings.yaml"),
		LogLevel:     "info",
		BLE: BLEConfig{
			Mode:              ModeAuto,
			DiscoveryTimeout:  8 * time.Second,
			ConnectTimeout:    12 * time.Second,
			QuickScanTimeout:  5 * time.Second,
			MinAttemptTimeout: 3 * time.Second,
			SimulatedLatency:  180 * time.Millisecond,
			WriteInterval:     20 * time.Millisecond,
			BrightnessStep:    10,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "blelkdom",
			TopicPrefix: "blelkdom",
		},
		Hotkeys: HotkeysConfig{
			PowerToggle:    []string{"ctrl", "alt", "l"},
			BrightnessUp:   []string{"ctrl", "alt", "up"},
			BrightnessDown: []string{"ctrl", "alt", "down"},
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in settings_path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.SettingsPath = expandTilde(cfg.SettingsPath)

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.SettingsPath == "" {
		return fmt.Errorf("settings_path must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.BLE.Mode {
	case ModeAuto, ModeHardware, ModeSimulate:
	default:
		return fmt.Errorf("ble.mode must be \"auto\", \"hardware\" or \"simulate\", got %q", c.BLE.Mode)
	}

	for name, d := range map[string]time.Duration{
		"ble.discovery_timeout":   c.BLE.DiscoveryTimeout,
		"ble.connect_timeout":     c.BLE.ConnectTimeout,
		"ble.quick_scan_timeout":  c.BLE.QuickScanTimeout,
		"ble.min_attempt_timeout": c.BLE.MinAttemptTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.BLE.SimulatedLatency < 0 {
		return fmt.Errorf("ble.simulated_latency must be >= 0")
	}
	if c.BLE.WriteInterval < 0 {
		return fmt.Errorf("ble.write_interval must be >= 0")
	}
	if c.BLE.BrightnessStep <= 0 || c.BLE.BrightnessStep > 100 {
		return fmt.Errorf("ble.brightness_step must be between 1 and 100, got %d", c.BLE.BrightnessStep)
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker must not be empty when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "#+") {
			return fmt.Errorf("mqtt.topic_prefix must be a non-empty topic without wildcards, got %q", c.MQTT.TopicPrefix)
		}
	}

	if c.Hotkeys.Enabled {
		for name, keys := range map[string][]string{
			"hotkeys.power_toggle":    c.Hotkeys.PowerToggle,
			"hotkeys.brightness_up":   c.Hotkeys.BrightnessUp,
			"hotkeys.brightness_down": c.Hotkeys.BrightnessDown,
		} {
			if len(keys) == 0 {
				return fmt.Errorf("%s must not be empty when hotkeys are enabled", name)
			}
		}
	}

	return nil
}

const defaultHeader = `# blelkdom configuration
# ble.mode: auto falls back to simulation when no adapter is available.
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// ("", nil) when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(defaultHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
