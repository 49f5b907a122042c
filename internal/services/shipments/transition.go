package shipments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
)

const casAttempts = 3

type StatusStore interface {
	GetShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	CompareAndSetStatus(ctx context.Context, ch models.StatusChange) (bool, error)
}

// CacheKey is where the current view of a shipment is cached.
func CacheKey(id uint64) string {
	return fmt.Sprintf("shipment:%d:current", id)
}

// Advance moves sh towards incoming with compare-and-set. When another writer changed the
// shipment first it is re-read and the rules are applied again to the fresh state.
func Advance(ctx context.Context, st StatusStore, sh *models.Shipment, incoming models.ShipmentStatus, at time.Time) (*models.Shipment, bool, error) {
	return retryCAS(ctx, st, sh, func(cur *models.Shipment) (models.StatusChange, bool, error) {
		ch, ok := Plan(cur, incoming, at)
		return ch, ok, nil
	})
}

// SetManual applies an administrative status change with the same compare-and-set loop.
func SetManual(ctx context.Context, st StatusStore, sh *models.Shipment, to models.ShipmentStatus, at time.Time) (*models.Shipment, bool, error) {
	return retryCAS(ctx, st, sh, func(cur *models.Shipment) (models.StatusChange, bool, error) {
		return PlanManual(cur, to, at)
	})
}

func retryCAS(
	ctx context.Context,
	st StatusStore,
	sh *models.Shipment,
	plan func(cur *models.Shipment) (models.StatusChange, bool, error),
) (*models.Shipment, bool, error) {
	cur := sh
	for attempt := 1; attempt <= casAttempts; attempt++ {
		ch, ok, err := plan(cur)
		if err != nil || !ok {
			return cur, false, err
		}
		applied, err := st.CompareAndSetStatus(ctx, ch)
		if err != nil {
			return cur, false, err
		}
		if applied {
			return withChange(cur, ch), true, nil
		}

		slog.Warn("shipment status changed concurrently, re-reading",
			"shipment_id", cur.ID, "expected", string(ch.From), "attempt", attempt)
		if cur, err = st.GetShipment(ctx, sh.ID); err != nil {
			return nil, false, err
		}
	}
	return cur, false, shiperr.Conflict("shipment", sh.ID, "status kept changing concurrently")
}

func withChange(sh *models.Shipment, ch models.StatusChange) *models.Shipment {
	out := *sh
	out.Status = ch.To
	if out.ShippedAt == nil {
		out.ShippedAt = ch.ShippedAt
	}
	if out.DeliveredAt == nil {
		out.DeliveredAt = ch.DeliveredAt
	}
	out.UpdatedAt = ch.At
	return &out
}
