package sandbox

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
)

const Code = "SANDBOX"

// Client is the deterministic stand-in used when no real carrier is configured.
// Outcomes depend only on the inputs: every fifth tracking number reads as delivered.
type Client struct {
	carrier.Base
	now func() time.Time
}

func New() *Client {
	return &Client{
		Base: carrier.Base{
			CarrierCode:         Code,
			LabelPrefix:         "SBX",
			TrackingURLTemplate: "https://sandbox.shipbox.local/track/%s",
			Statuses: carrier.StatusMap{
				Codes: carrier.CanonicalCodes(),
			},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (c *Client) GenerateLabel(ctx context.Context, req carrier.LabelRequest) (carrier.LabelResult, error) {
	if err := req.Validate(); err != nil {
		return carrier.LabelResult{}, err
	}
	number := fmt.Sprintf("SBX%010d", hash(fmt.Sprintf("%d|%s", req.ShipmentID, req.Format)))
	url := fmt.Sprintf("https://sandbox.shipbox.local/labels/%s.%s", number, extension(req.Format))
	edd := c.now().Add(72 * time.Hour).Truncate(24 * time.Hour)
	return carrier.LabelResult{
		LabelNumber:           number,
		LabelURL:              &url,
		ServiceName:           "sandbox-standard",
		TrackingURL:           c.TrackingURL(number),
		EstimatedDeliveryDate: &edd,
	}, nil
}

func (c *Client) TrackShipment(ctx context.Context, trackingNumber string) carrier.TrackingResult {
	if trackingNumber == "" {
		return carrier.UnknownTracking()
	}
	now := c.now()
	status := models.ShipmentStatusInTransit
	if hash(trackingNumber)%5 == 0 {
		status = models.ShipmentStatusDelivered
	}
	raw := string(status)
	return carrier.TrackingResult{
		Status:    status,
		StatusRaw: raw,
		StatusAt:  &now,
		Events: []carrier.TrackingEvent{{
			StatusRaw:   raw,
			Description: "sandbox carrier update",
			OccurredAt:  now,
		}},
	}
}

func (c *Client) CancelShipment(ctx context.Context, trackingNumber, reason string) bool {
	return trackingNumber != ""
}

func (c *Client) VoidLabel(ctx context.Context, labelNumber string) bool {
	return labelNumber != ""
}

func hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func extension(f models.LabelFormat) string {
	if f == models.LabelFormatZPL {
		return "zpl"
	}
	return "pdf"
}
