package ble

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// ScanAttempt is one scan strategy. Attempts run strictly in order.
type ScanAttempt struct {
	Label        string
	ServiceUUIDs []string
}

// ScanAttempts lists the strategies tried for discovery and matching.
// Unfiltered first because many stacks report richer advertisement data
// without a filter; filtered second as a narrower fallback.
var ScanAttempts = []ScanAttempt{
	{Label: "unfiltered"},
	{Label: "blelkdom-service", ServiceUUIDs: []string{ServiceUUIDShort}},
}

// waitReady blocks until the adapter reports poweredOn. Unauthorized and
// unsupported states fail immediately.
func waitReady(ctx context.Context, adapter Adapter) error {
	if s := adapter.State(); s == AdapterPoweredOn || s.Unusable() {
		return checkState(s)
	}

	states := make(chan AdapterState, 8)
	stop := adapter.WatchState(func(s AdapterState) {
		select {
		case states <- s:
		default:
		}
	})
	defer stop()

	// The state may have changed between the first check and registration.
	if s := adapter.State(); s == AdapterPoweredOn || s.Unusable() {
		return checkState(s)
	}

	slog.Info("[BLE] waiting for adapter", "state", adapter.State())
	for {
		select {
		case s := <-states:
			if s == AdapterPoweredOn || s.Unusable() {
				return checkState(s)
			}
		case <-ctx.Done():
			return fmt.Errorf("ble: wait for adapter: %w", ctx.Err())
		}
	}
}

func checkState(s AdapterState) error {
	if s.Unusable() {
		return fmt.Errorf("%w: state %s", ErrAdapterUnusable, s)
	}
	return nil
}

// discoveryCache remembers every peripheral summarized during this process.
type discoveryCache struct {
	mu      sync.Mutex
	devices map[string]DeviceSummary
}

func newDiscoveryCache() *discoveryCache {
	return &discoveryCache{devices: make(map[string]DeviceSummary)}
}

func (c *discoveryCache) put(s DeviceSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[s.ID] = s
}

func (c *discoveryCache) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.devices[id]
	return ok
}

func (c *discoveryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.devices)
}

func (c *discoveryCache) list() []DeviceSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedSummaries(c.devices)
}

// sortedSummaries orders strongest signal first, then by name and id.
func sortedSummaries(m map[string]DeviceSummary) []DeviceSummary {
	out := make([]DeviceSummary, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	rssi := func(s DeviceSummary) int {
		if s.RSSI == nil {
			return -1 << 15
		}
		return *s.RSSI
	}
	slices.SortFunc(out, func(a, b DeviceSummary) int {
		if c := cmp.Compare(rssi(b), rssi(a)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// scanner runs discovery and match scans against one adapter.
type scanner struct {
	adapter Adapter
	cache   *discoveryCache
}

// discover runs the ordered scan attempts, stopping after the first attempt
// that yields any device. With nothing found, previously cached devices are
// returned instead of an empty result.
func (s *scanner) discover(ctx context.Context, timeout time.Duration, saved *SavedDevice) ([]DeviceSummary, error) {
	if err := waitReady(ctx, s.adapter); err != nil {
		return nil, err
	}
	slog.Debug("[BLE] adapter ready, starting scan attempts")

	aggregated := make(map[string]DeviceSummary)
	for _, attempt := range ScanAttempts {
		slog.Debug("[BLE] discovery attempt", "label", attempt.Label, "filters", attempt.ServiceUUIDs)
		found, err := s.discoveryAttempt(ctx, attempt, timeout, saved)
		if err != nil {
			return nil, err
		}
		slog.Info("[BLE] discovery attempt finished", "label", attempt.Label, "found", len(found))
		for id, d := range found {
			aggregated[id] = d
		}
		if len(aggregated) > 0 {
			break
		}
	}

	if len(aggregated) == 0 && s.cache.len() > 0 {
		cached := s.cache.list()
		slog.Info("[BLE] no new devices, returning cached", "count", len(cached))
		return cached, nil
	}
	return sortedSummaries(aggregated), nil
}

func (s *scanner) discoveryAttempt(ctx context.Context, attempt ScanAttempt, timeout time.Duration, saved *SavedDevice) (map[string]DeviceSummary, error) {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	devices := make(map[string]DeviceSummary)
	err := s.adapter.Scan(scanCtx, attempt.ServiceUUIDs, func(adv Advertisement) {
		if !qualifies(adv, saved) {
			return
		}
		summary := summarize(adv)
		mu.Lock()
		devices[summary.ID] = summary
		mu.Unlock()
		s.cache.put(summary)
	})
	if err != nil {
		return nil, fmt.Errorf("ble: scan %s: %w", attempt.Label, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ble: scan %s: %w", attempt.Label, err)
	}

	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}

// matchAttempt scans until a peripheral matching target is seen or timeout
// elapses. Stopping on first match and on timeout share one cancellation.
// A timeout returns (nil, nil).
func (s *scanner) matchAttempt(ctx context.Context, attempt ScanAttempt, target SavedDevice, timeout time.Duration) (*Advertisement, error) {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		match *Advertisement
	)
	err := s.adapter.Scan(scanCtx, attempt.ServiceUUIDs, func(adv Advertisement) {
		mu.Lock()
		defer mu.Unlock()
		if match != nil {
			return
		}
		ok := MatchesSaved(adv, target)
		slog.Debug("[BLE] discovered", "peripheral", adv.String(), "matches", ok)
		if !ok {
			return
		}
		found := adv
		match = &found
		cancel()
	})
	if err != nil {
		return nil, fmt.Errorf("ble: scan %s: %w", attempt.Label, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if match != nil {
		return match, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

// ScanTimeouts bounds the match scans used to find the saved device.
type ScanTimeouts struct {
	Total      time.Duration // shared across attempts in the full pass
	Quick      time.Duration // per-attempt cap for the cached quick pass
	MinAttempt time.Duration // per-attempt floor for the full pass
}

// findSaved resolves a live advertisement for target. When the target was
// seen by an earlier discovery a short quick pass runs first.
func (s *scanner) findSaved(ctx context.Context, target SavedDevice, t ScanTimeouts) (*Advertisement, error) {
	perAttempt := max(t.MinAttempt, t.Total/time.Duration(len(ScanAttempts)))
	slog.Info("[BLE] looking for saved device", "id", target.ID, "name", target.Name, "address", target.Address)

	if s.cache.has(target.ID) {
		quick := min(perAttempt, t.Quick)
		for _, attempt := range ScanAttempts {
			slog.Debug("[BLE] quick scan attempt", "label", attempt.Label, "timeout", quick)
			adv, err := s.matchAttempt(ctx, attempt, target, quick)
			if adv != nil {
				slog.Info("[BLE] match found via quick scan", "peripheral", adv.ID)
				return adv, nil
			}
			if err := scanFailure(ctx, attempt, err); err != nil {
				return nil, err
			}
		}
	}

	for _, attempt := range ScanAttempts {
		slog.Debug("[BLE] scan attempt", "label", attempt.Label, "timeout", perAttempt)
		adv, err := s.matchAttempt(ctx, attempt, target, perAttempt)
		if adv != nil {
			slog.Info("[BLE] match found", "peripheral", adv.ID, "name", adv.LocalName)
			return adv, nil
		}
		if err := scanFailure(ctx, attempt, err); err != nil {
			return nil, err
		}
		slog.Debug("[BLE] no match in attempt", "label", attempt.Label)
	}

	slog.Error("[BLE] saved device not found after all attempts", "target", target.ID)
	return nil, ErrDeviceNotFound
}

// scanFailure logs a failed attempt and returns an error only when the
// caller's context ended; other scan failures move on to the next attempt.
func scanFailure(ctx context.Context, attempt ScanAttempt, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ble: find saved device: %w", ctxErr)
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("[BLE] scan attempt failed", "label", attempt.Label, "error", err)
	}
	return nil
}
