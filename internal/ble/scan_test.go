package ble

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDiscoverStopsAfterFirstProductiveAttempt(t *testing.T) {
	adapter := newFakeAdapter(Advertisement{ID: "a", LocalName: "Strip A", RSSI: -70, HasRSSI: true})
	s := &scanner{adapter: adapter, cache: newDiscoveryCache()}

	devices, err := s.discover(context.Background(), 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "a" {
		t.Fatalf("devices = %+v, want [a]", devices)
	}
	if n := len(adapter.scanFilters()); n != 1 {
		t.Errorf("scan attempts = %d, want 1", n)
	}
}

func TestDiscoverFallsBackToFilteredAttempt(t *testing.T) {
	// Unqualified in the unfiltered pass, so the filtered pass runs too.
	adapter := newFakeAdapter(Advertisement{ID: "anon"})
	s := &scanner{adapter: adapter, cache: newDiscoveryCache()}

	devices, err := s.discover(context.Background(), 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("devices = %+v, want none", devices)
	}
	filters := adapter.scanFilters()
	if len(filters) != 2 {
		t.Fatalf("scan attempts = %d, want 2", len(filters))
	}
	if len(filters[0]) != 0 {
		t.Errorf("first attempt filters = %v, want unfiltered", filters[0])
	}
	if len(filters[1]) != 1 || filters[1][0] != ServiceUUIDShort {
		t.Errorf("second attempt filters = %v, want [%s]", filters[1], ServiceUUIDShort)
	}
}

func TestDiscoverReturnsCacheWhenNothingFound(t *testing.T) {
	cache := newDiscoveryCache()
	cache.put(DeviceSummary{ID: "old", Name: "Old Strip"})
	s := &scanner{adapter: newFakeAdapter(), cache: cache}

	devices, err := s.discover(context.Background(), 5*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "old" {
		t.Errorf("devices = %+v, want cached [old]", devices)
	}
}

func TestDiscoverSortsBySignal(t *testing.T) {
	adapter := newFakeAdapter(
		Advertisement{ID: "weak", LocalName: "Weak", RSSI: -90, HasRSSI: true},
		Advertisement{ID: "strong", LocalName: "Strong", RSSI: -40, HasRSSI: true},
		Advertisement{ID: "silent", LocalName: "Silent"},
	)
	s := &scanner{adapter: adapter, cache: newDiscoveryCache()}

	devices, err := s.discover(context.Background(), 5*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	var ids []string
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	want := []string{"strong", "weak", "silent"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids = %v, want %v", ids, want)
			break
		}
	}
}

func TestDiscoverUnauthorizedAdapter(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.state = AdapterUnauthorized
	s := &scanner{adapter: adapter, cache: newDiscoveryCache()}

	_, err := s.discover(context.Background(), 5*time.Millisecond, nil)
	if !errors.Is(err, ErrAdapterUnusable) {
		t.Fatalf("err = %v, want ErrAdapterUnusable", err)
	}
	if n := len(adapter.scanFilters()); n != 0 {
		t.Errorf("scans = %d, want 0", n)
	}
}

func TestWaitReadyWaitsForPowerOn(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.state = AdapterPoweredOff

	done := make(chan error, 1)
	go func() { done <- waitReady(context.Background(), adapter) }()

	time.Sleep(10 * time.Millisecond)
	adapter.setState(AdapterPoweredOn)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waitReady: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waitReady did not return after power on")
	}
}

func TestWaitReadyHonoursContext(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.state = AdapterResetting

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := waitReady(ctx, adapter); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestMatchAttemptStopsOnFirstMatch(t *testing.T) {
	adapter := newFakeAdapter(
		Advertisement{ID: "other", LocalName: "Other"},
		Advertisement{ID: "target", LocalName: "Strip"},
		Advertisement{ID: "target-2", LocalName: "Strip"},
	)
	s := &scanner{adapter: adapter, cache: newDiscoveryCache()}

	start := time.Now()
	adv, err := s.matchAttempt(context.Background(), ScanAttempts[0], SavedDevice{ID: "gone", Name: "Strip"}, time.Second)
	if err != nil {
		t.Fatalf("matchAttempt: %v", err)
	}
	if adv == nil || adv.ID != "target" {
		t.Fatalf("adv = %v, want target", adv)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("scan did not stop on first match")
	}
}

func TestMatchAttemptTimeoutIsNotAnError(t *testing.T) {
	s := &scanner{adapter: newFakeAdapter(), cache: newDiscoveryCache()}
	adv, err := s.matchAttempt(context.Background(), ScanAttempts[0], SavedDevice{ID: "x"}, 5*time.Millisecond)
	if adv != nil || err != nil {
		t.Fatalf("matchAttempt = (%v, %v), want (nil, nil)", adv, err)
	}
}

func TestFindSavedQuickPassForCachedDevice(t *testing.T) {
	adapter := newFakeAdapter(Advertisement{ID: "strip", LocalName: "Strip"})
	cache := newDiscoveryCache()
	cache.put(DeviceSummary{ID: "strip", Name: "Strip"})
	s := &scanner{adapter: adapter, cache: cache}

	adv, err := s.findSaved(context.Background(), SavedDevice{ID: "strip"}, ScanTimeouts{
		Total: time.Second, Quick: 50 * time.Millisecond, MinAttempt: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("findSaved: %v", err)
	}
	if adv.ID != "strip" {
		t.Errorf("adv.ID = %q, want strip", adv.ID)
	}
	if n := len(adapter.scanFilters()); n != 1 {
		t.Errorf("scans = %d, want 1", n)
	}
}

func TestFindSavedNotFound(t *testing.T) {
	adapter := newFakeAdapter(Advertisement{ID: "other", LocalName: "Other"})
	s := &scanner{adapter: adapter, cache: newDiscoveryCache()}

	_, err := s.findSaved(context.Background(), SavedDevice{ID: "strip", Name: "Strip"}, ScanTimeouts{
		Total: 10 * time.Millisecond, Quick: 5 * time.Millisecond, MinAttempt: 5 * time.Millisecond,
	})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", err)
	}
	if n := len(adapter.scanFilters()); n != len(ScanAttempts) {
		t.Errorf("scans = %d, want %d", n, len(ScanAttempts))
	}
}

func TestFindSavedSkipsFailedAttempt(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.scanErr = errors.New("busy")
	s := &scanner{adapter: adapter, cache: newDiscoveryCache()}

	_, err := s.findSaved(context.Background(), SavedDevice{ID: "strip"}, ScanTimeouts{
		Total: 10 * time.Millisecond, Quick: 5 * time.Millisecond, MinAttempt: 5 * time.Millisecond,
	})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", err)
	}
}
