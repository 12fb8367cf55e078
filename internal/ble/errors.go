package ble

import "errors"

var (
	// ErrNoDeviceSelected is returned by command operations before a strip is selected.
	ErrNoDeviceSelected = errors.New("select a BLELKDOM strip first")

	// ErrDeviceNotFound is returned when no scan attempt finds the saved device.
	ErrDeviceNotFound = errors.New("saved device not found during scan attempts; try rescanning and selecting the device again")

	// ErrCharacteristicUnavailable is returned when the write characteristic is
	// absent after both targeted and exhaustive discovery.
	ErrCharacteristicUnavailable = errors.New("unable to find BLELKDOM write characteristic")

	// ErrAdapterUnusable is returned when the adapter is unauthorized or unsupported.
	ErrAdapterUnusable = errors.New("bluetooth adapter unusable")

	// ErrNotConnected is returned by a write without an attached characteristic.
	ErrNotConnected = errors.New("no BLE characteristic is available")

	// ErrAdapterUnavailable is returned when hardware mode is forced but no
	// adapter could be enabled.
	ErrAdapterUnavailable = errors.New("bluetooth stack is unavailable")
)
