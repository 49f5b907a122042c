package carrier

import (
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
)

// Base carries what every adapter shares: identity, vocabulary, retry policy and fallback shape.
type Base struct {
	CarrierCode string
	// LabelPrefix starts synthetic label numbers, e.g. "BLZ-42-1735689600".
	LabelPrefix string
	// TrackingURLTemplate holds one %s for the tracking number; empty means no guess.
	TrackingURLTemplate string
	Statuses            StatusMap
	Exec                *Executor
}

func (b *Base) Code() string { return b.CarrierCode }

func (b *Base) NormalizeStatus(raw string) models.ShipmentStatus {
	return b.Statuses.Normalize(raw)
}

func (b *Base) TrackingURL(trackingNumber string) *string {
	if b.TrackingURLTemplate == "" || trackingNumber == "" {
		return nil
	}
	u := fmt.Sprintf(b.TrackingURLTemplate, trackingNumber)
	return &u
}

func (b *Base) FallbackLabel(req LabelRequest, now time.Time) LabelResult {
	prefix := b.LabelPrefix
	if prefix == "" {
		prefix = strings.ToUpper(b.CarrierCode)
	}
	number := fmt.Sprintf("%s-%d-%d", prefix, req.ShipmentID, now.UTC().Unix())
	tn := req.TrackingNumber
	if tn == "" {
		tn = number
	}
	return LabelResult{
		LabelNumber: number,
		LabelURL:    nil,
		ServiceName: "fallback",
		TrackingURL: b.TrackingURL(tn),
	}
}

var defaultExec = DefaultExecutor()

func (b *Base) Executor() *Executor {
	if b.Exec == nil {
		return defaultExec
	}
	return b.Exec
}
