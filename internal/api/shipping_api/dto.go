package shipping_api

import (
	"encoding/json"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
)

type createLabelRequest struct {
	Format string `json:"format" validate:"omitempty,oneof=PDF ZPL"`
}

type bulkLabelsRequest struct {
	ShipmentIDs []uint64 `json:"shipmentIds" validate:"required,min=1,dive,gt=0"`
	Format      string   `json:"format" validate:"omitempty,oneof=PDF ZPL"`
}

type cancelRequest struct {
	TrackingNumber string `json:"trackingNumber" validate:"required,max=64"`
	Reason         string `json:"reason" validate:"max=255"`
}

type bulkCancelRequest struct {
	TrackingNumbers []string `json:"trackingNumbers" validate:"required,min=1,dive,required,max=64"`
	Reason          string   `json:"reason" validate:"max=255"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING SHIPPED IN_TRANSIT DELIVERED CANCELLED"`
}

// trackingRequest is the canonical ingestion input. Required fields are checked by the
// ingestion service so every channel reports the same errors.
type trackingRequest struct {
	ShipmentID     uint64          `json:"shipmentId"`
	TrackingNumber string          `json:"trackingNumber"`
	Status         string          `json:"status"`
	SubStatus      *string         `json:"subStatus,omitempty"`
	Description    *string         `json:"description,omitempty"`
	EventCode      *string         `json:"eventCode,omitempty"`
	Location       *string         `json:"location,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
	RawPayload     json.RawMessage `json:"rawPayload,omitempty"`
}

func (r trackingRequest) input() models.TrackingInput {
	in := models.TrackingInput{
		ShipmentID:     r.ShipmentID,
		TrackingNumber: r.TrackingNumber,
		Status:         r.Status,
		SubStatus:      r.SubStatus,
		Description:    r.Description,
		EventCode:      r.EventCode,
		Location:       r.Location,
		OccurredAt:     r.OccurredAt,
	}
	if len(r.RawPayload) > 0 && string(r.RawPayload) != "null" {
		raw := string(r.RawPayload)
		in.RawPayload = &raw
	}
	return in
}

type labelResponse struct {
	ID                    uint64     `json:"id"`
	ShipmentID            uint64     `json:"shipmentId"`
	LabelNumber           string     `json:"labelNumber"`
	CarrierCode           string     `json:"carrierCode"`
	Format                string     `json:"format"`
	LabelURL              *string    `json:"labelUrl"`
	TrackingURL           *string    `json:"trackingUrl,omitempty"`
	ServiceName           string     `json:"serviceName,omitempty"`
	EstimatedDeliveryDate *time.Time `json:"estimatedDeliveryDate,omitempty"`
	Status                string     `json:"status"`
	Fallback              bool       `json:"fallback"`
	FailureReason         *string    `json:"failureReason,omitempty"`
	RequestedAt           time.Time  `json:"requestedAt"`
	GeneratedAt           *time.Time `json:"generatedAt,omitempty"`
	VoidedAt              *time.Time `json:"voidedAt,omitempty"`
}

func toLabel(l *models.Label) labelResponse {
	return labelResponse{
		ID:                    l.ID,
		ShipmentID:            l.ShipmentID,
		LabelNumber:           l.LabelNumber,
		CarrierCode:           l.CarrierCode,
		Format:                string(l.Format),
		LabelURL:              l.LabelURL,
		TrackingURL:           l.TrackingURL,
		ServiceName:           l.ServiceName,
		EstimatedDeliveryDate: l.EstimatedDeliveryDate,
		Status:                string(l.Status),
		Fallback:              l.Fallback,
		FailureReason:         l.FailureReason,
		RequestedAt:           l.RequestedAt,
		GeneratedAt:           l.GeneratedAt,
		VoidedAt:              l.VoidedAt,
	}
}

type shipmentResponse struct {
	ID                    uint64     `json:"id"`
	TrackingNumber        string     `json:"trackingNumber"`
	Status                string     `json:"status"`
	CarrierID             uint64     `json:"carrierId"`
	OrderID               uint64     `json:"orderId"`
	WarehouseID           *uint64    `json:"warehouseId,omitempty"`
	WeightGrams           int64      `json:"weightGrams"`
	OriginPostalCode      string     `json:"originPostalCode,omitempty"`
	DestinationPostalCode string     `json:"destinationPostalCode,omitempty"`
	ShippedAt             *time.Time `json:"shippedAt,omitempty"`
	DeliveredAt           *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

func toShipment(sh *models.Shipment) shipmentResponse {
	return shipmentResponse{
		ID:                    sh.ID,
		TrackingNumber:        sh.TrackingNumber,
		Status:                string(sh.Status),
		CarrierID:             sh.CarrierID,
		OrderID:               sh.OrderID,
		WarehouseID:           sh.WarehouseID,
		WeightGrams:           sh.WeightGrams,
		OriginPostalCode:      sh.OriginPostalCode,
		DestinationPostalCode: sh.DestinationPostalCode,
		ShippedAt:             sh.ShippedAt,
		DeliveredAt:           sh.DeliveredAt,
		CreatedAt:             sh.CreatedAt,
		UpdatedAt:             sh.UpdatedAt,
	}
}

type eventResponse struct {
	ID          uint64          `json:"id"`
	ShipmentID  uint64          `json:"shipmentId"`
	Status      string          `json:"status"`
	StatusRaw   string          `json:"statusRaw"`
	SubStatus   *string         `json:"subStatus,omitempty"`
	Description *string         `json:"description,omitempty"`
	EventCode   *string         `json:"eventCode,omitempty"`
	Location    *string         `json:"location,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
	RawPayload  json.RawMessage `json:"rawPayload,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func toEvent(e *models.TrackingEvent) eventResponse {
	out := eventResponse{
		ID:          e.ID,
		ShipmentID:  e.ShipmentID,
		Status:      string(e.Status),
		StatusRaw:   e.StatusRaw,
		SubStatus:   e.SubStatus,
		Description: e.Description,
		EventCode:   e.EventCode,
		Location:    e.Location,
		OccurredAt:  e.OccurredAt,
		CreatedAt:   e.CreatedAt,
	}
	if e.PayloadJSON != nil && json.Valid([]byte(*e.PayloadJSON)) {
		out.RawPayload = json.RawMessage(*e.PayloadJSON)
	}
	return out
}
