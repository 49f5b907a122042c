// Package messages defines the payloads carried over Kafka and MQTT.
package messages

import (
	"strconv"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/google/uuid"
)

// TrackingReported is one carrier or scanner event in the canonical ingestion shape.
type TrackingReported struct {
	MessageID      string    `json:"message_id"`
	Source         string    `json:"source"`
	ShipmentID     uint64    `json:"shipment_id" validate:"required"`
	TrackingNumber string    `json:"tracking_number" validate:"required"`
	Status         string    `json:"status" validate:"required"`
	SubStatus      *string   `json:"sub_status,omitempty"`
	Description    *string   `json:"description,omitempty"`
	EventCode      *string   `json:"event_code,omitempty"`
	Location       *string   `json:"location,omitempty"`
	OccurredAt     time.Time `json:"occurred_at" validate:"required"`
	RawPayload     *string   `json:"raw_payload,omitempty"`
}

func NewTrackingReported(source string, in models.TrackingInput) TrackingReported {
	return TrackingReported{
		MessageID:      uuid.NewString(),
		Source:         source,
		ShipmentID:     in.ShipmentID,
		TrackingNumber: in.TrackingNumber,
		Status:         in.Status,
		SubStatus:      in.SubStatus,
		Description:    in.Description,
		EventCode:      in.EventCode,
		Location:       in.Location,
		OccurredAt:     in.OccurredAt,
		RawPayload:     in.RawPayload,
	}
}

func (m TrackingReported) Input() models.TrackingInput {
	return models.TrackingInput{
		ShipmentID:     m.ShipmentID,
		TrackingNumber: m.TrackingNumber,
		Status:         m.Status,
		SubStatus:      m.SubStatus,
		Description:    m.Description,
		EventCode:      m.EventCode,
		Location:       m.Location,
		OccurredAt:     m.OccurredAt,
		RawPayload:     m.RawPayload,
	}
}

// Key partitions tracking messages by shipment.
func (m TrackingReported) Key() []byte {
	return []byte(strconv.FormatUint(m.ShipmentID, 10))
}

type LabelGenerated struct {
	MessageID      string     `json:"message_id"`
	ShipmentID     uint64     `json:"shipment_id"`
	TrackingNumber string     `json:"tracking_number"`
	LabelNumber    string     `json:"label_number"`
	CarrierCode    string     `json:"carrier_code"`
	Format         string     `json:"format"`
	LabelURL       *string    `json:"label_url,omitempty"`
	TrackingURL    *string    `json:"tracking_url,omitempty"`
	Fallback       bool       `json:"fallback"`
	GeneratedAt    *time.Time `json:"generated_at,omitempty"`
}

func NewLabelGenerated(sh *models.Shipment, l *models.Label) LabelGenerated {
	return LabelGenerated{
		MessageID:      uuid.NewString(),
		ShipmentID:     l.ShipmentID,
		TrackingNumber: sh.TrackingNumber,
		LabelNumber:    l.LabelNumber,
		CarrierCode:    l.CarrierCode,
		Format:         string(l.Format),
		LabelURL:       l.LabelURL,
		TrackingURL:    l.TrackingURL,
		Fallback:       l.Fallback,
		GeneratedAt:    l.GeneratedAt,
	}
}

func (m LabelGenerated) Key() []byte {
	return []byte(strconv.FormatUint(m.ShipmentID, 10))
}
