package carrier

import (
	"strings"

	"github.com/BearBump/ShipBox/internal/models"
)

type PhraseRule struct {
	Contains []string
	Status   models.ShipmentStatus
}

// StatusMap translates one carrier's status vocabulary into canonical statuses.
// Codes match the whole (trimmed, lower-cased) value; phrases match as substrings
// and are tried in order, so negations must come before the phrase they negate.
type StatusMap struct {
	Codes   map[string]models.ShipmentStatus
	Phrases []PhraseRule
}

func (m StatusMap) Normalize(raw string) models.ShipmentStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return models.ShipmentStatusUnknown
	}
	if st, ok := m.Codes[s]; ok {
		return st
	}
	for _, r := range m.Phrases {
		for _, p := range r.Contains {
			if strings.Contains(s, p) {
				return r.Status
			}
		}
	}
	return models.ShipmentStatusUnknown
}

// CanonicalCodes lets every carrier accept the canonical names verbatim.
func CanonicalCodes() map[string]models.ShipmentStatus {
	return map[string]models.ShipmentStatus{
		"pending":    models.ShipmentStatusPending,
		"shipped":    models.ShipmentStatusShipped,
		"in_transit": models.ShipmentStatusInTransit,
		"delivered":  models.ShipmentStatusDelivered,
		"cancelled":  models.ShipmentStatusCancelled,
	}
}

// MergeCodes returns base extended with extra; extra wins on collision.
func MergeCodes(base, extra map[string]models.ShipmentStatus) map[string]models.ShipmentStatus {
	out := make(map[string]models.ShipmentStatus, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
