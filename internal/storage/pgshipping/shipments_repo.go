package pgshipping

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const shipmentColumns = `
  id, tracking_number, status, carrier_id, order_id, warehouse_id,
  weight_grams, length_cm, width_cm, height_cm,
  origin_postal_code, destination_postal_code,
  shipped_at, delivered_at, next_check_at, check_fail_count,
  created_at, updated_at`

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	err := row.Scan(
		&sh.ID, &sh.TrackingNumber, &sh.Status, &sh.CarrierID, &sh.OrderID, &sh.WarehouseID,
		&sh.WeightGrams, &sh.LengthCm, &sh.WidthCm, &sh.HeightCm,
		&sh.OriginPostalCode, &sh.DestinationPostalCode,
		&sh.ShippedAt, &sh.DeliveredAt, &sh.NextCheckAt, &sh.CheckFailCount,
		&sh.CreatedAt, &sh.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

func (s *Storage) CreateShipment(ctx context.Context, in models.NewShipment) (*models.Shipment, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
INSERT INTO shipments (
  tracking_number, status, carrier_id, order_id, warehouse_id,
  weight_grams, length_cm, width_cm, height_cm,
  origin_postal_code, destination_postal_code, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
RETURNING`+shipmentColumns,
		in.TrackingNumber, models.ShipmentStatusPending, in.CarrierID, in.OrderID, in.WarehouseID,
		in.WeightGrams, in.LengthCm, in.WidthCm, in.HeightCm,
		in.OriginPostalCode, in.DestinationPostalCode, now)
	sh, err := scanShipment(row)
	if isUniqueViolation(err, "") {
		return nil, shiperr.Conflict("shipment", in.TrackingNumber, "tracking number already used")
	}
	if err != nil {
		return nil, errors.Wrap(err, "insert shipment")
	}
	return sh, nil
}

func (s *Storage) GetShipment(ctx context.Context, id uint64) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shiperr.NotFound("shipment", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

func (s *Storage) GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE tracking_number = $1`, trackingNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shiperr.NotFound("shipment", trackingNumber)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by tracking number")
	}
	return sh, nil
}

func (s *Storage) UpdateShipmentCarrier(ctx context.Context, shipmentID, carrierID uint64) error {
	tag, err := s.db.Exec(ctx, `UPDATE shipments SET carrier_id = $2, updated_at = now() WHERE id = $1`, shipmentID, carrierID)
	if err != nil {
		return errors.Wrap(err, "update shipment carrier")
	}
	if tag.RowsAffected() == 0 {
		return shiperr.NotFound("shipment", shipmentID)
	}
	return nil
}

// CompareAndSetStatus applies ch only if the shipment is still in ch.From.
// The first shipment to enter SHIPPED or IN_TRANSIT is scheduled for polling right away.
func (s *Storage) CompareAndSetStatus(ctx context.Context, ch models.StatusChange) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE shipments
SET
  status = $3,
  shipped_at = COALESCE(shipped_at, $4),
  delivered_at = COALESCE(delivered_at, $5),
  next_check_at = CASE
    WHEN $3 IN ('SHIPPED', 'IN_TRANSIT') THEN COALESCE(next_check_at, $6)
    ELSE NULL
  END,
  updated_at = $6
WHERE id = $1 AND status = $2
`, ch.ShipmentID, ch.From, ch.To, ch.ShippedAt, ch.DeliveredAt, ch.At.UTC())
	if err != nil {
		return false, errors.Wrap(err, "cas shipment status")
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimDueShipments picks in-flight shipments whose next check is due and leases them,
// so a concurrent worker does not pick them again while they are being polled.
func (s *Storage) ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+shipmentColumns+`
FROM shipments
WHERE next_check_at <= $1
  AND status IN ('SHIPPED', 'IN_TRANSIT')
ORDER BY next_check_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due shipments")
	}

	var picked []*models.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan due shipment")
		}
		picked = append(picked, sh)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, sh := range picked {
		_, err := tx.Exec(ctx, `UPDATE shipments SET next_check_at = $2 WHERE id = $1`, sh.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease shipment")
		}
		sh.NextCheckAt = &leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// ScheduleNextCheck records a poll outcome. Failed polls bump check_fail_count, successful ones reset it.
func (s *Storage) ScheduleNextCheck(ctx context.Context, shipmentID uint64, next time.Time, failed bool) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET
  next_check_at = CASE WHEN status IN ('SHIPPED', 'IN_TRANSIT') THEN $2 ELSE NULL END,
  check_fail_count = CASE WHEN $3 THEN check_fail_count + 1 ELSE 0 END
WHERE id = $1
`, shipmentID, next.UTC(), failed)
	return errors.Wrap(err, "schedule next check")
}
