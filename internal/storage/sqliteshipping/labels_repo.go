package sqliteshipping

import (
	"context"
	"database/sql"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
)

const labelColumns = `
  id, shipment_id, label_number, carrier_code, format, label_url, tracking_url,
  service_name, estimated_delivery_date, status, fallback, failure_reason,
  requested_at, generated_at, voided_at`

func scanLabel(row rowScanner) (*models.Label, error) {
	var l models.Label
	var labelURL, trackingURL, edd, failure, generatedAt, voidedAt sql.NullString
	var requestedAt string
	err := row.Scan(
		&l.ID, &l.ShipmentID, &l.LabelNumber, &l.CarrierCode, &l.Format, &labelURL, &trackingURL,
		&l.ServiceName, &edd, &l.Status, &l.Fallback, &failure,
		&requestedAt, &generatedAt, &voidedAt,
	)
	if err != nil {
		return nil, err
	}
	l.LabelURL = scanStringPtr(labelURL)
	l.TrackingURL = scanStringPtr(trackingURL)
	l.EstimatedDeliveryDate = scanTimePtr(edd)
	l.FailureReason = scanStringPtr(failure)
	l.RequestedAt = scanTime(requestedAt)
	l.GeneratedAt = scanTimePtr(generatedAt)
	l.VoidedAt = scanTimePtr(voidedAt)
	return &l, nil
}

func (s *Storage) GetActiveLabel(ctx context.Context, shipmentID uint64) (*models.Label, error) {
	l, err := scanLabel(s.db.QueryRowContext(ctx, `SELECT`+labelColumns+`
FROM labels WHERE shipment_id = ? AND status <> 'VOIDED'`, int64(shipmentID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select active label")
	}
	return l, nil
}

func (s *Storage) GetLabelByNumber(ctx context.Context, labelNumber string) (*models.Label, error) {
	l, err := scanLabel(s.db.QueryRowContext(ctx, `SELECT`+labelColumns+`
FROM labels WHERE label_number = ? ORDER BY id DESC LIMIT 1`, labelNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shiperr.NotFound("label", labelNumber)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select label")
	}
	return l, nil
}

func (s *Storage) InsertLabel(ctx context.Context, l *models.Label) (*models.Label, error) {
	out, err := scanLabel(s.db.QueryRowContext(ctx, `
INSERT INTO labels (
  shipment_id, label_number, carrier_code, format, label_url, tracking_url,
  service_name, estimated_delivery_date, status, fallback, failure_reason,
  requested_at, generated_at
)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
RETURNING`+labelColumns,
		int64(l.ShipmentID), l.LabelNumber, l.CarrierCode, string(l.Format), l.LabelURL, l.TrackingURL,
		l.ServiceName, formatTimePtr(l.EstimatedDeliveryDate), string(l.Status), l.Fallback, l.FailureReason,
		formatTime(l.RequestedAt), formatTimePtr(l.GeneratedAt)))
	if isUniqueViolation(err) {
		return nil, shiperr.Conflict("label", l.ShipmentID, "shipment already has a live label")
	}
	if err != nil {
		return nil, errors.Wrap(err, "insert label")
	}
	return out, nil
}

func (s *Storage) MarkLabelVoided(ctx context.Context, labelID uint64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE labels SET status = 'VOIDED', voided_at = ?
WHERE id = ? AND status <> 'VOIDED'
`, formatTime(at), int64(labelID))
	if err != nil {
		return errors.Wrap(err, "void label")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shiperr.Conflict("label", labelID, "label already voided")
	}
	return nil
}
