// Package fulfillment turns shipments into carrier labels and drives cancellation and voiding.
package fulfillment

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/cache"
	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/batch"
	"github.com/BearBump/ShipBox/internal/services/rateshop"
	"github.com/BearBump/ShipBox/internal/services/shipments"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
)

type Repository interface {
	GetShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Shipment, error)
	UpdateShipmentCarrier(ctx context.Context, shipmentID, carrierID uint64) error
	CompareAndSetStatus(ctx context.Context, ch models.StatusChange) (bool, error)

	GetCarrier(ctx context.Context, id uint64) (*models.CarrierDescriptor, error)
	GetCarrierByCode(ctx context.Context, code string) (*models.CarrierDescriptor, error)
	GetOrder(ctx context.Context, id uint64) (*models.Order, error)
	GetWarehouse(ctx context.Context, id uint64) (*models.Warehouse, error)

	GetActiveLabel(ctx context.Context, shipmentID uint64) (*models.Label, error)
	GetLabelByNumber(ctx context.Context, labelNumber string) (*models.Label, error)
	InsertLabel(ctx context.Context, l *models.Label) (*models.Label, error)
	MarkLabelVoided(ctx context.Context, labelID uint64, at time.Time) error
}

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

type RateShopper interface {
	Shop(ctx context.Context, c rateshop.Criteria) (*models.RateShopDecision, bool)
}

type Notifier interface {
	LabelIssued(sh *models.Shipment, l *models.Label)
}

type Service struct {
	repo     Repository
	registry *carrier.Registry

	shopper  RateShopper
	locker   Locker
	lockTTL  time.Duration
	notifier Notifier
	cache    cache.BytesCache
	batch    *batch.Coordinator
	now      func() time.Time

	inflight flights
}

func New(repo Repository, registry *carrier.Registry) *Service {
	return &Service{
		repo:     repo,
		registry: registry,
		lockTTL:  60 * time.Second,
		batch:    batch.New(batch.DefaultSize, batch.DefaultMaxItems),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithRateShop(r RateShopper) *Service {
	s.shopper = r
	return s
}

func (s *Service) WithLocker(l Locker, ttl time.Duration) *Service {
	s.locker = l
	if ttl > 0 {
		s.lockTTL = ttl
	}
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithCache lets status changes invalidate the cached shipment view.
func (s *Service) WithCache(c cache.BytesCache) *Service {
	s.cache = c
	return s
}

func (s *Service) WithBatch(b *batch.Coordinator) *Service {
	if b != nil {
		s.batch = b
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateLabel returns the live label of a shipment, asking its carrier for one when there is none.
// Concurrent calls for one shipment share a single carrier request in this process, a Redis lock
// guards other processes, and the store keeps at most one live label per shipment.
func (s *Service) CreateLabel(ctx context.Context, shipmentID uint64, format models.LabelFormat) (*models.Label, error) {
	if shipmentID == 0 {
		return nil, shiperr.Validation("shipmentId", "is required")
	}
	if format != "" && !format.Valid() {
		return nil, shiperr.Validationf("format", "unsupported label format %q", format)
	}

	v, err := s.inflight.do(ctx, strconv.FormatUint(shipmentID, 10), func(ctx context.Context) (any, error) {
		return s.createLabel(ctx, shipmentID, format)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Label), nil
}

func (s *Service) createLabel(ctx context.Context, shipmentID uint64, format models.LabelFormat) (*models.Label, error) {
	sh, err := s.repo.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if l, err := s.repo.GetActiveLabel(ctx, sh.ID); err != nil || l != nil {
		return s.existingLabel(ctx, sh, l, err)
	}
	if sh.Status.Terminal() {
		return nil, shiperr.Validationf("status", "shipment %d is %s", sh.ID, sh.Status)
	}

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, labelLockKey(sh.ID), s.lockTTL)
		switch {
		case err != nil:
			slog.Warn("label lock unavailable, relying on store uniqueness", "shipment_id", sh.ID, "error", err.Error())
		case !ok:
			return nil, shiperr.Conflict("label", sh.ID, "label generation already in progress")
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					slog.Warn("release label lock", "shipment_id", sh.ID, "error", err.Error())
				}
			}()
			// another process may have finished between our check and the lock
			if l, err := s.repo.GetActiveLabel(ctx, sh.ID); err != nil || l != nil {
				return s.existingLabel(ctx, sh, l, err)
			}
		}
	}

	in, err := s.assemble(ctx, sh)
	if err != nil {
		return nil, err
	}
	in = s.shop(ctx, in)

	client, registered := s.registry.Resolve(in.carrier.Code)
	if !registered {
		slog.Warn("no client registered for carrier, using sandbox",
			"shipment_id", sh.ID, "carrier", in.carrier.Code)
	}

	if format == "" {
		format = models.LabelFormatPDF
	}
	req := in.request(format)
	requestedAt := s.now()
	issued, err := carrier.Issue(ctx, client, req, s.now)
	if err != nil {
		return nil, err
	}

	label := newLabel(req, client.Code(), issued, requestedAt, s.now())
	saved, err := s.repo.InsertLabel(ctx, label)
	if shiperr.IsConflict(err) {
		return s.lostInsertRace(ctx, client, sh.ID, label)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "save label for shipment %d", sh.ID)
	}

	updated, _, err := s.ship(ctx, in.shipment)
	if err != nil {
		slog.Error("label saved but shipment not moved to SHIPPED", "shipment_id", sh.ID,
			"label_number", saved.LabelNumber, "error", err.Error())
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.LabelIssued(updated, saved)
	}

	slog.Info("label created", "shipment_id", sh.ID, "carrier", saved.CarrierCode,
		"label_number", saved.LabelNumber, "fallback", saved.Fallback)
	return saved, nil
}

// existingLabel returns the live label of sh. A PENDING shipment holding a label is one whose
// earlier move to SHIPPED failed after the label was saved, so that move is made here.
func (s *Service) existingLabel(ctx context.Context, sh *models.Shipment, l *models.Label, err error) (*models.Label, error) {
	if err != nil {
		return nil, err
	}
	if sh.Status != models.ShipmentStatusPending {
		return l, nil
	}
	updated, changed, err := s.ship(ctx, sh)
	if err != nil {
		return nil, err
	}
	if changed && s.notifier != nil {
		s.notifier.LabelIssued(updated, l)
	}
	return l, nil
}

func (s *Service) ship(ctx context.Context, sh *models.Shipment) (*models.Shipment, bool, error) {
	updated, changed, err := shipments.Advance(ctx, s.repo, sh, models.ShipmentStatusShipped, s.now())
	if err != nil {
		return nil, false, errors.Wrapf(err, "move shipment %d to SHIPPED", sh.ID)
	}
	if changed {
		s.invalidate(ctx, sh.ID)
	}
	if updated == nil {
		updated = sh
	}
	return updated, changed, nil
}

// lostInsertRace returns the label that won the uniqueness race and voids the one we just
// obtained from the carrier, since nothing will ever reference it.
func (s *Service) lostInsertRace(ctx context.Context, client carrier.Client, shipmentID uint64, ours *models.Label) (*models.Label, error) {
	winner, err := s.repo.GetActiveLabel(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, shiperr.Conflict("label", shipmentID, "label was created and voided concurrently")
	}
	if !ours.Fallback && ours.LabelNumber != winner.LabelNumber {
		if !client.VoidLabel(ctx, ours.LabelNumber) {
			slog.Warn("could not void duplicate carrier label", "shipment_id", shipmentID, "label_number", ours.LabelNumber)
		}
	}
	return winner, nil
}

func newLabel(req carrier.LabelRequest, code string, issued carrier.Issued, requestedAt, now time.Time) *models.Label {
	l := &models.Label{
		ShipmentID:            req.ShipmentID,
		LabelNumber:           issued.Result.LabelNumber,
		CarrierCode:           code,
		Format:                req.Format,
		LabelURL:              issued.Result.LabelURL,
		TrackingURL:           issued.Result.TrackingURL,
		ServiceName:           issued.Result.ServiceName,
		EstimatedDeliveryDate: issued.Result.EstimatedDeliveryDate,
		Status:                models.LabelStatusGenerated,
		RequestedAt:           requestedAt,
		GeneratedAt:           &now,
	}
	if issued.Fallback {
		l.Status = models.LabelStatusPending
		l.Fallback = true
		l.GeneratedAt = nil
		if issued.Cause != nil {
			reason := issued.Cause.Error()
			l.FailureReason = &reason
		}
	}
	return l
}

func (s *Service) invalidate(ctx context.Context, shipmentID uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, shipments.CacheKey(shipmentID)); err != nil {
		slog.Warn("invalidate shipment cache", "shipment_id", shipmentID, "error", err.Error())
	}
}

func labelLockKey(shipmentID uint64) string {
	return "lock:label:shipment:" + strconv.FormatUint(shipmentID, 10)
}

func sameCarrier(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
