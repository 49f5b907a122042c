package sqliteshipping

import (
	"context"
	"database/sql"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
)

const shipmentColumns = `
  id, tracking_number, status, carrier_id, order_id, warehouse_id,
  weight_grams, length_cm, width_cm, height_cm,
  origin_postal_code, destination_postal_code,
  shipped_at, delivered_at, next_check_at, check_fail_count,
  created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (*models.Shipment, error) {
	var sh models.Shipment
	var warehouseID sql.NullInt64
	var shippedAt, deliveredAt, nextCheckAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(
		&sh.ID, &sh.TrackingNumber, &sh.Status, &sh.CarrierID, &sh.OrderID, &warehouseID,
		&sh.WeightGrams, &sh.LengthCm, &sh.WidthCm, &sh.HeightCm,
		&sh.OriginPostalCode, &sh.DestinationPostalCode,
		&shippedAt, &deliveredAt, &nextCheckAt, &sh.CheckFailCount,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	sh.WarehouseID = scanUintPtr(warehouseID)
	sh.ShippedAt = scanTimePtr(shippedAt)
	sh.DeliveredAt = scanTimePtr(deliveredAt)
	sh.NextCheckAt = scanTimePtr(nextCheckAt)
	sh.CreatedAt = scanTime(createdAt)
	sh.UpdatedAt = scanTime(updatedAt)
	return &sh, nil
}

func (s *Storage) CreateShipment(ctx context.Context, in models.NewShipment) (*models.Shipment, error) {
	now := formatTime(time.Now())
	sh, err := scanShipment(s.db.QueryRowContext(ctx, `
INSERT INTO shipments (
  tracking_number, status, carrier_id, order_id, warehouse_id,
  weight_grams, length_cm, width_cm, height_cm,
  origin_postal_code, destination_postal_code, created_at, updated_at
)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
RETURNING`+shipmentColumns,
		in.TrackingNumber, string(models.ShipmentStatusPending), int64(in.CarrierID), int64(in.OrderID), uintArg(in.WarehouseID),
		in.WeightGrams, in.LengthCm, in.WidthCm, in.HeightCm,
		in.OriginPostalCode, in.DestinationPostalCode, now, now))
	if isUniqueViolation(err) {
		return nil, shiperr.Conflict("shipment", in.TrackingNumber, "tracking number already used")
	}
	if err != nil {
		return nil, errors.Wrap(err, "insert shipment")
	}
	return sh, nil
}

func (s *Storage) GetShipment(ctx context.Context, id uint64) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRowContext(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = ?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shiperr.NotFound("shipment", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

func (s *Storage) GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRowContext(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE tracking_number = ?`, trackingNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shiperr.NotFound("shipment", trackingNumber)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by tracking number")
	}
	return sh, nil
}

func (s *Storage) UpdateShipmentCarrier(ctx context.Context, shipmentID, carrierID uint64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE shipments SET carrier_id = ?, updated_at = ? WHERE id = ?`,
		int64(carrierID), formatTime(time.Now()), int64(shipmentID))
	if err != nil {
		return errors.Wrap(err, "update shipment carrier")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shiperr.NotFound("shipment", shipmentID)
	}
	return nil
}

func (s *Storage) CompareAndSetStatus(ctx context.Context, ch models.StatusChange) (bool, error) {
	var nextCheck any
	if ch.To == models.ShipmentStatusShipped || ch.To == models.ShipmentStatusInTransit {
		nextCheck = formatTime(ch.At)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE shipments
SET
  status = ?,
  shipped_at = COALESCE(shipped_at, ?),
  delivered_at = COALESCE(delivered_at, ?),
  next_check_at = CASE WHEN ? IS NULL THEN NULL ELSE COALESCE(next_check_at, ?) END,
  updated_at = ?
WHERE id = ? AND status = ?
`, string(ch.To), formatTimePtr(ch.ShippedAt), formatTimePtr(ch.DeliveredAt), nextCheck, nextCheck,
		formatTime(ch.At), int64(ch.ShipmentID), string(ch.From))
	if err != nil {
		return false, errors.Wrap(err, "cas shipment status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

func (s *Storage) ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
SELECT`+shipmentColumns+`
FROM shipments
WHERE next_check_at <= ?
  AND status IN ('SHIPPED', 'IN_TRANSIT')
ORDER BY next_check_at ASC
LIMIT ?
`, formatTime(now), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due shipments")
	}

	var picked []*models.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			_ = rows.Close()
			return nil, errors.Wrap(err, "scan due shipment")
		}
		picked = append(picked, sh)
	}
	_ = rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, sh := range picked {
		if _, err := tx.ExecContext(ctx, `UPDATE shipments SET next_check_at = ? WHERE id = ?`,
			formatTime(leaseUntil), int64(sh.ID)); err != nil {
			return nil, errors.Wrap(err, "lease shipment")
		}
		sh.NextCheckAt = &leaseUntil
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) ScheduleNextCheck(ctx context.Context, shipmentID uint64, next time.Time, failed bool) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE shipments
SET
  next_check_at = CASE WHEN status IN ('SHIPPED', 'IN_TRANSIT') THEN ? ELSE NULL END,
  check_fail_count = CASE WHEN ? THEN check_fail_count + 1 ELSE 0 END
WHERE id = ?
`, formatTime(next), failed, int64(shipmentID))
	return errors.Wrap(err, "schedule next check")
}
