package pgshipping

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const labelColumns = `
  id, shipment_id, label_number, carrier_code, format, label_url, tracking_url,
  service_name, estimated_delivery_date, status, fallback, failure_reason,
  requested_at, generated_at, voided_at`

func scanLabel(row pgx.Row) (*models.Label, error) {
	var l models.Label
	err := row.Scan(
		&l.ID, &l.ShipmentID, &l.LabelNumber, &l.CarrierCode, &l.Format, &l.LabelURL, &l.TrackingURL,
		&l.ServiceName, &l.EstimatedDeliveryDate, &l.Status, &l.Fallback, &l.FailureReason,
		&l.RequestedAt, &l.GeneratedAt, &l.VoidedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetActiveLabel returns the live (non-voided) label of a shipment, or nil when there is none.
func (s *Storage) GetActiveLabel(ctx context.Context, shipmentID uint64) (*models.Label, error) {
	l, err := scanLabel(s.db.QueryRow(ctx, `SELECT`+labelColumns+`
FROM labels WHERE shipment_id = $1 AND status <> 'VOIDED'`, shipmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select active label")
	}
	return l, nil
}

func (s *Storage) GetLabelByNumber(ctx context.Context, labelNumber string) (*models.Label, error) {
	l, err := scanLabel(s.db.QueryRow(ctx, `SELECT`+labelColumns+`
FROM labels WHERE label_number = $1 ORDER BY id DESC LIMIT 1`, labelNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shiperr.NotFound("label", labelNumber)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select label")
	}
	return l, nil
}

// InsertLabel stores a new live label. A second live label for the same shipment is
// rejected with a conflict error.
func (s *Storage) InsertLabel(ctx context.Context, l *models.Label) (*models.Label, error) {
	out, err := scanLabel(s.db.QueryRow(ctx, `
INSERT INTO labels (
  shipment_id, label_number, carrier_code, format, label_url, tracking_url,
  service_name, estimated_delivery_date, status, fallback, failure_reason,
  requested_at, generated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING`+labelColumns,
		l.ShipmentID, l.LabelNumber, l.CarrierCode, l.Format, l.LabelURL, l.TrackingURL,
		l.ServiceName, l.EstimatedDeliveryDate, l.Status, l.Fallback, l.FailureReason,
		l.RequestedAt.UTC(), l.GeneratedAt))
	if isUniqueViolation(err, "uq_labels_live_shipment") {
		return nil, shiperr.Conflict("label", l.ShipmentID, "shipment already has a live label")
	}
	if err != nil {
		return nil, errors.Wrap(err, "insert label")
	}
	return out, nil
}

func (s *Storage) MarkLabelVoided(ctx context.Context, labelID uint64, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE labels SET status = 'VOIDED', voided_at = $2
WHERE id = $1 AND status <> 'VOIDED'
`, labelID, at.UTC())
	if err != nil {
		return errors.Wrap(err, "void label")
	}
	if tag.RowsAffected() == 0 {
		return shiperr.Conflict("label", labelID, "label already voided")
	}
	return nil
}
