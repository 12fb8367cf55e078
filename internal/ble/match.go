package ble

import (
	"log/slog"
	"strings"
)

// IsTargetService reports whether the peripheral advertises the strip service
// in either its 16-bit or 128-bit form.
func IsTargetService(adv Advertisement) bool {
	return adv.HasService(ServiceUUID) || adv.HasService(ServiceUUIDShort)
}

// MatchesSaved reports whether adv is the saved device. Any one of platform
// id equality, case-insensitive address equality or trimmed local name
// equality is enough; there is no precedence between them.
func MatchesSaved(adv Advertisement, saved SavedDevice) bool {
	idMatch := adv.ID != "" && adv.ID == saved.ID
	addressMatch := saved.Address != "" && adv.Address != "" &&
		strings.EqualFold(adv.Address, saved.Address)
	savedName := strings.TrimSpace(saved.Name)
	advName := strings.TrimSpace(adv.LocalName)
	nameMatch := savedName != "" && advName != "" && advName == savedName

	if idMatch || addressMatch || nameMatch {
		slog.Debug("[BLE] match criteria",
			"id", idMatch, "address", addressMatch, "name", nameMatch,
			"peripheral", adv.ID, "saved", saved.ID)
		return true
	}
	return false
}

// qualifies decides whether a peripheral belongs in a discovery result.
// Some stacks drop service UUIDs from advertisements, so any identifying
// data is accepted as well.
func qualifies(adv Advertisement, saved *SavedDevice) bool {
	if IsTargetService(adv) {
		return true
	}
	if saved != nil && MatchesSaved(adv, *saved) {
		return true
	}
	return adv.LocalName != "" || len(adv.ManufacturerData) > 0 || adv.Address != ""
}
