package ble

import "sync"

// SavedDevice identifies the strip the user selected. ID is platform-assigned
// and may change across adapter resets, so Address and Name also serve as
// independent proofs of identity.
type SavedDevice struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

// DeviceSummary is one discovery result.
type DeviceSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	RSSI    *int   `json:"rssi,omitempty"`
}

// Saved converts a discovery result into a device that can be selected.
func (d DeviceSummary) Saved() SavedDevice {
	return SavedDevice{ID: d.ID, Name: d.Name, Address: d.Address}
}

// DeviceState is the strip state as last commanded by this process.
type DeviceState struct {
	PowerOn        bool         `json:"powerOn"`
	Color          string       `json:"color"`
	Brightness     int          `json:"brightness"`
	Connected      bool         `json:"connected"`
	SelectedDevice *SavedDevice `json:"selectedDevice"`
}

// Clone returns a deep copy safe to hand to subscribers.
func (s DeviceState) Clone() DeviceState {
	if s.SelectedDevice != nil {
		d := *s.SelectedDevice
		s.SelectedDevice = &d
	}
	return s
}

// Store persists the selected device and the last color/power across restarts.
type Store interface {
	SelectedDevice() *SavedDevice
	SetSelectedDevice(device *SavedDevice) error
	LastState() (color string, powerOn bool)
	PersistState(color string, powerOn bool) error
}

const unnamedDevice = "Unnamed device"

func summarize(adv Advertisement) DeviceSummary {
	name := adv.LocalName
	if name == "" {
		name = unnamedDevice
	}
	s := DeviceSummary{ID: adv.ID, Name: name, Address: adv.Address}
	if adv.HasRSSI {
		rssi := adv.RSSI
		s.RSSI = &rssi
	}
	return s
}

// DefaultColor is the color assumed before anything was persisted.
const DefaultColor = "#ff0000"

// MemoryStore is a Store that forgets everything on exit.
type MemoryStore struct {
	mu       sync.Mutex
	selected *SavedDevice
	color    string
	powerOn  bool
}

// NewMemoryStore returns a MemoryStore seeded with the defaults.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{color: DefaultColor}
}

func (s *MemoryStore) SelectedDevice() *SavedDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return nil
	}
	d := *s.selected
	return &d
}

func (s *MemoryStore) SetSelectedDevice(device *SavedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if device == nil {
		s.selected = nil
		return nil
	}
	d := *device
	s.selected = &d
	return nil
}

func (s *MemoryStore) LastState() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color, s.powerOn
}

func (s *MemoryStore) PersistState(color string, powerOn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.color = color
	s.powerOn = powerOn
	return nil
}
