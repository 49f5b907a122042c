package trackings

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/cache"
	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/shipments"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/BearBump/ShipBox/internal/validate"
	"github.com/pkg/errors"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 500
)

type Repository interface {
	GetShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	CompareAndSetStatus(ctx context.Context, ch models.StatusChange) (bool, error)
	GetCarrier(ctx context.Context, id uint64) (*models.CarrierDescriptor, error)
	GetActiveLabel(ctx context.Context, shipmentID uint64) (*models.Label, error)
	AppendTrackingEvent(ctx context.Context, e *models.TrackingEvent) (*models.TrackingEvent, bool, error)
	ListTrackingEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error)
}

// Service ingests tracking events and serves the shipment read path.
type Service struct {
	repo       Repository
	registry   *carrier.Registry
	cache      cache.BytesCache
	currentTTL time.Duration
	now        func() time.Time
}

func New(repo Repository, registry *carrier.Registry, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{
		repo:       repo,
		registry:   registry,
		cache:      c,
		currentTTL: currentTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type ingestRules struct {
	ShipmentID     uint64    `json:"shipmentId" validate:"required"`
	TrackingNumber string    `json:"trackingNumber" validate:"required,max=64"`
	Status         string    `json:"status" validate:"required,max=256"`
	OccurredAt     time.Time `json:"occurredAt" validate:"required"`
}

// IngestTracking stores one carrier event and moves the shipment forward when the event
// is progress. A duplicate is stored once but still re-applies its status; UNKNOWN events
// never change status.
// deliveredAt and shippedAt take the carrier-reported occurredAt.
func (s *Service) IngestTracking(ctx context.Context, in models.TrackingInput) (*models.TrackingEvent, error) {
	if err := validate.Struct(ingestRules{
		ShipmentID:     in.ShipmentID,
		TrackingNumber: in.TrackingNumber,
		Status:         in.Status,
		OccurredAt:     in.OccurredAt,
	}); err != nil {
		return nil, err
	}

	sh, err := s.repo.GetShipment(ctx, in.ShipmentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTrackingNumber(ctx, sh, in.TrackingNumber); err != nil {
		return nil, err
	}
	desc, err := s.repo.GetCarrier(ctx, sh.CarrierID)
	if err != nil {
		return nil, err
	}
	client, _ := s.registry.Resolve(desc.Code)
	status := client.NormalizeStatus(in.Status)
	occurredAt := in.OccurredAt.UTC()

	ev, inserted, err := s.repo.AppendTrackingEvent(ctx, &models.TrackingEvent{
		ShipmentID:  sh.ID,
		Status:      status,
		StatusRaw:   in.Status,
		SubStatus:   in.SubStatus,
		Description: in.Description,
		EventCode:   in.EventCode,
		Location:    in.Location,
		OccurredAt:  occurredAt,
		PayloadJSON: in.RawPayload,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		// a redelivery may follow a failed status write, so the stored status is applied again
		slog.Debug("duplicate tracking event", "shipment_id", sh.ID, "status_raw", in.Status)
		status, occurredAt = ev.Status, ev.OccurredAt
	}
	if status == models.ShipmentStatusUnknown {
		slog.Info("tracking status not recognised", "shipment_id", sh.ID, "carrier", desc.Code, "status_raw", in.Status)
		return ev, nil
	}

	_, changed, err := shipments.Advance(ctx, s.repo, sh, status, occurredAt)
	if err != nil {
		return nil, errors.Wrapf(err, "apply tracking status to shipment %d", sh.ID)
	}
	if changed {
		s.refresh(ctx, sh.ID)
	}
	return ev, nil
}

// checkTrackingNumber accepts the shipment's own tracking number or the carrier number of its live label.
func (s *Service) checkTrackingNumber(ctx context.Context, sh *models.Shipment, tn string) error {
	if tn == sh.TrackingNumber {
		return nil
	}
	l, err := s.repo.GetActiveLabel(ctx, sh.ID)
	if err != nil {
		return err
	}
	if l != nil && l.LabelNumber == tn {
		return nil
	}
	return shiperr.Validationf("trackingNumber", "%q does not belong to shipment %d", tn, sh.ID)
}

// GetShipment serves the current view of a shipment, from cache when possible.
func (s *Service) GetShipment(ctx context.Context, id uint64) (*models.Shipment, error) {
	if id == 0 {
		return nil, shiperr.Validation("shipmentId", "is required")
	}
	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, shipments.CacheKey(id))
		if err == nil && ok {
			var sh models.Shipment
			if json.Unmarshal(b, &sh) == nil {
				return &sh, nil
			}
		}
	}
	sh, err := s.repo.GetShipment(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, sh)
	return sh, nil
}

func (s *Service) ListTrackingEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	if shipmentID == 0 {
		return nil, shiperr.Validation("shipmentId", "is required")
	}
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := s.GetShipment(ctx, shipmentID); err != nil {
		return nil, err
	}
	return s.repo.ListTrackingEvents(ctx, shipmentID, limit, offset)
}

// UpdateShipmentStatus is the administrative path. Unlike ingestion it may move a shipment
// backwards, but never to PENDING after shipping or away from DELIVERED.
func (s *Service) UpdateShipmentStatus(ctx context.Context, id uint64, status models.ShipmentStatus) (*models.Shipment, error) {
	if id == 0 {
		return nil, shiperr.Validation("shipmentId", "is required")
	}
	sh, err := s.repo.GetShipment(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, changed, err := shipments.SetManual(ctx, s.repo, sh, status, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}
	slog.Info("shipment status set manually", "shipment_id", id, "from", string(sh.Status), "to", string(status))
	if fresh := s.refresh(ctx, id); fresh != nil {
		return fresh, nil
	}
	return updated, nil
}

// HandleTrackingMessage is the Kafka/MQTT entry point. Messages that can never succeed are
// logged and dropped so they do not block the stream; other failures are returned for redelivery.
func (s *Service) HandleTrackingMessage(ctx context.Context, payload []byte) error {
	var msg messages.TrackingReported
	if err := json.Unmarshal(payload, &msg); err != nil {
		slog.Error("drop undecodable tracking message", "error", err.Error())
		return nil
	}
	_, err := s.IngestTracking(ctx, msg.Input())
	switch {
	case err == nil:
		return nil
	case shiperr.IsValidation(err), shiperr.IsNotFound(err):
		slog.Error("drop tracking message", "message_id", msg.MessageID, "shipment_id", msg.ShipmentID, "error", err.Error())
		return nil
	default:
		return err
	}
}

// refresh re-reads the shipment after a change and rewrites the cached view.
func (s *Service) refresh(ctx context.Context, id uint64) *models.Shipment {
	sh, err := s.repo.GetShipment(ctx, id)
	if err != nil {
		slog.Warn("reload shipment for cache", "shipment_id", id, "error", err.Error())
		if s.cacheEnabled() {
			_ = s.cache.Del(ctx, shipments.CacheKey(id))
		}
		return nil
	}
	s.store(ctx, sh)
	return sh
}

func (s *Service) store(ctx context.Context, sh *models.Shipment) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(sh)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, shipments.CacheKey(sh.ID), b, s.currentTTL); err != nil {
		slog.Warn("cache shipment", "shipment_id", sh.ID, "error", err.Error())
	}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}
