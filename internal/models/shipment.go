package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShipmentStatus string

// Canonical shipment statuses. UNKNOWN is only produced by normalization and never stored.
const (
	ShipmentStatusPending   ShipmentStatus = "PENDING"
	ShipmentStatusShipped   ShipmentStatus = "SHIPPED"
	ShipmentStatusInTransit ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusDelivered ShipmentStatus = "DELIVERED"
	ShipmentStatusCancelled ShipmentStatus = "CANCELLED"
	ShipmentStatusUnknown   ShipmentStatus = "UNKNOWN"
)

func (s ShipmentStatus) String() string { return string(s) }

// Terminal reports whether no transition may leave s.
func (s ShipmentStatus) Terminal() bool {
	return s == ShipmentStatusDelivered || s == ShipmentStatusCancelled
}

func (s ShipmentStatus) Valid() bool {
	switch s {
	case ShipmentStatusPending, ShipmentStatusShipped, ShipmentStatusInTransit,
		ShipmentStatusDelivered, ShipmentStatusCancelled:
		return true
	}
	return false
}

type LabelStatus string

const (
	LabelStatusPending   LabelStatus = "PENDING"
	LabelStatusGenerated LabelStatus = "GENERATED"
	LabelStatusFailed    LabelStatus = "FAILED"
	LabelStatusVoided    LabelStatus = "VOIDED"
)

type LabelFormat string

const (
	LabelFormatPDF LabelFormat = "PDF"
	LabelFormatZPL LabelFormat = "ZPL"
)

func (f LabelFormat) Valid() bool {
	return f == LabelFormatPDF || f == LabelFormatZPL
}

type Shipment struct {
	ID             uint64
	TrackingNumber string
	Status         ShipmentStatus
	CarrierID      uint64
	OrderID        uint64
	WarehouseID    *uint64

	WeightGrams int64
	LengthCm    float64
	WidthCm     float64
	HeightCm    float64

	OriginPostalCode      string
	DestinationPostalCode string

	ShippedAt   *time.Time
	DeliveredAt *time.Time

	NextCheckAt    *time.Time
	CheckFailCount int32

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Label struct {
	ID                    uint64
	ShipmentID            uint64
	LabelNumber           string
	CarrierCode           string
	Format                LabelFormat
	LabelURL              *string
	TrackingURL           *string
	ServiceName           string
	EstimatedDeliveryDate *time.Time
	Status                LabelStatus
	Fallback              bool
	FailureReason         *string
	RequestedAt           time.Time
	GeneratedAt           *time.Time
	VoidedAt              *time.Time
}

type TrackingEvent struct {
	ID          uint64
	ShipmentID  uint64
	Status      ShipmentStatus
	StatusRaw   string
	SubStatus   *string
	Description *string
	EventCode   *string
	Location    *string
	OccurredAt  time.Time
	PayloadJSON *string
	CreatedAt   time.Time
}

type Address struct {
	Name       string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Order and Warehouse are owned by other services and only read here.
type Order struct {
	ID              uint64
	DeliveryAddress Address
	WeightGrams     int64
	LengthCm        float64
	WidthCm         float64
	HeightCm        float64
	TotalValue      decimal.Decimal
	CODAmount       *decimal.Decimal
	WarehouseID     *uint64
}

type Warehouse struct {
	ID            uint64
	Name          string
	PickupAddress Address
}

type CarrierDescriptor struct {
	ID        uint64
	Code      string
	Name      string
	ConfigRef string
}

type RateShopDecision struct {
	CarrierCode   string
	EstimatedCost decimal.Decimal
	EstimatedDays int
}

type TrackingInput struct {
	ShipmentID     uint64
	TrackingNumber string
	Status         string
	SubStatus      *string
	Description    *string
	EventCode      *string
	Location       *string
	OccurredAt     time.Time
	RawPayload     *string
}

// StatusChange is applied only while the stored status still equals From.
// ShippedAt and DeliveredAt only fill timestamps that are still empty.
type StatusChange struct {
	ShipmentID  uint64
	From        ShipmentStatus
	To          ShipmentStatus
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	At          time.Time
}

// NewShipment is what order fulfillment hands over when it books a shipment.
type NewShipment struct {
	TrackingNumber        string
	CarrierID             uint64
	OrderID               uint64
	WarehouseID           *uint64
	WeightGrams           int64
	LengthCm              float64
	WidthCm               float64
	HeightCm              float64
	OriginPostalCode      string
	DestinationPostalCode string
}
