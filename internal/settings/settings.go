// Package settings persists the selected strip, the last commanded color and
// power, and user color presets in a small YAML file.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/blelkdom-ctl/internal/ble"
)

// Preset is a named color.
type Preset struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Color string `yaml:"color" json:"color"`
}

// record is the on-disk layout.
type record struct {
	SelectedDevice *ble.SavedDevice `yaml:"selected_device,omitempty"`
	LastColor      string           `yaml:"last_color"`
	LastPowerOn    bool             `yaml:"last_power_on"`
	CustomPresets  []Preset         `yaml:"custom_presets"`
}

func defaults() record {
	return record{LastColor: ble.DefaultColor, CustomPresets: []Preset{}}
}

// Store is a file-backed ble.Store. Every mutation rewrites the whole file.
type Store struct {
	path string

	mu  sync.Mutex
	rec record
}

var _ ble.Store = (*Store)(nil)

// Open reads path, starting from defaults when it does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, rec: defaults()}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.rec); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	if s.rec.LastColor == "" {
		s.rec.LastColor = ble.DefaultColor
	}
	if s.rec.CustomPresets == nil {
		s.rec.CustomPresets = []Preset{}
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

func (s *Store) SelectedDevice() *ble.SavedDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.SelectedDevice == nil {
		return nil
	}
	d := *s.rec.SelectedDevice
	return &d
}

func (s *Store) SetSelectedDevice(device *ble.SavedDevice) error {
	return s.update(func(r *record) {
		if device == nil {
			r.SelectedDevice = nil
			return
		}
		d := *device
		r.SelectedDevice = &d
	})
}

func (s *Store) LastState() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.LastColor, s.rec.LastPowerOn
}

func (s *Store) PersistState(color string, powerOn bool) error {
	return s.update(func(r *record) {
		r.LastColor = color
		r.LastPowerOn = powerOn
	})
}

// CustomPresets returns a copy of the saved presets.
func (s *Store) CustomPresets() []Preset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Preset{}, s.rec.CustomPresets...)
}

// SaveCustomPresets replaces the saved presets.
func (s *Store) SaveCustomPresets(presets []Preset) error {
	cp := append([]Preset{}, presets...)
	return s.update(func(r *record) { r.CustomPresets = cp })
}

// update applies fn and writes the result. The in-memory record only
// changes when the write succeeds.
func (s *Store) update(fn func(*record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.rec
	next.CustomPresets = append([]Preset{}, s.rec.CustomPresets...)
	fn(&next)
	if err := s.write(next); err != nil {
		return err
	}
	s.rec = next
	return nil
}

func (s *Store) write(r record) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing settings file: %w", err)
	}
	return nil
}
