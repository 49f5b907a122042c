package carrier

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/shopspring/decimal"
)

type LabelRequest struct {
	ShipmentID     uint64
	TrackingNumber string
	WeightGrams    int64
	LengthCm       float64
	WidthCm        float64
	HeightCm       float64
	Delivery       *models.Address
	Pickup         *models.Address
	CODAmount      *decimal.Decimal
	DeclaredValue  *decimal.Decimal
	Format         models.LabelFormat
}

type LabelResult struct {
	LabelNumber           string
	LabelURL              *string
	ServiceName           string
	TrackingURL           *string
	EstimatedDeliveryDate *time.Time
}

type TrackingEvent struct {
	StatusRaw   string
	Description string
	Location    string
	EventCode   string
	OccurredAt  time.Time
	PayloadJSON string
}

type TrackingResult struct {
	Status    models.ShipmentStatus
	StatusRaw string
	StatusAt  *time.Time
	Events    []TrackingEvent
}

// UnknownTracking is what TrackShipment returns when the carrier could not be asked.
func UnknownTracking() TrackingResult {
	return TrackingResult{Status: models.ShipmentStatusUnknown}
}

// Client is implemented once per carrier.
//
// GenerateLabel reports carrier failures as errors; the fallback label is applied by Issue.
// TrackShipment, CancelShipment and VoidLabel never fail: they degrade to UNKNOWN or false.
type Client interface {
	Code() string
	GenerateLabel(ctx context.Context, req LabelRequest) (LabelResult, error)
	TrackShipment(ctx context.Context, trackingNumber string) TrackingResult
	CancelShipment(ctx context.Context, trackingNumber, reason string) bool
	VoidLabel(ctx context.Context, labelNumber string) bool
	NormalizeStatus(raw string) models.ShipmentStatus
	FallbackLabel(req LabelRequest, now time.Time) LabelResult
}
