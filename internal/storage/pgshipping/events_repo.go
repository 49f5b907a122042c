package pgshipping

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) ListTrackingEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, shipment_id, status, status_raw, sub_status, description, event_code,
  location, occurred_at, payload, created_at
FROM tracking_events
WHERE shipment_id = $1
ORDER BY occurred_at DESC, id DESC
LIMIT $2 OFFSET $3
`, shipmentID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.TrackingEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanEvent(row pgx.Row) (*models.TrackingEvent, error) {
	var e models.TrackingEvent
	var description, location string
	if err := row.Scan(
		&e.ID, &e.ShipmentID, &e.Status, &e.StatusRaw, &e.SubStatus, &description, &e.EventCode,
		&location, &e.OccurredAt, &e.PayloadJSON, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Description = strPtr(description)
	e.Location = strPtr(location)
	return &e, nil
}

// AppendTrackingEvent stores e unless an identical event is already recorded, in which
// case the stored one is returned with inserted=false. The raw payload is kept byte for byte.
func (s *Storage) AppendTrackingEvent(ctx context.Context, e *models.TrackingEvent) (*models.TrackingEvent, bool, error) {
	payload := e.PayloadJSON
	if payload != nil && *payload == "" {
		payload = nil
	}
	occurredAt := e.OccurredAt.UTC()
	description := deref(e.Description)
	location := deref(e.Location)

	out, err := scanEvent(s.db.QueryRow(ctx, `
INSERT INTO tracking_events (
  shipment_id, status, status_raw, sub_status, description, event_code,
  location, occurred_at, payload, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (shipment_id, status_raw, occurred_at, location, description) DO NOTHING
RETURNING
  id, shipment_id, status, status_raw, sub_status, description, event_code,
  location, occurred_at, payload, created_at
`, e.ShipmentID, e.Status, e.StatusRaw, e.SubStatus, description, e.EventCode,
		location, occurredAt, payload, time.Now().UTC()))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, errors.Wrap(err, "insert tracking event")
	}

	existing, err := scanEvent(s.db.QueryRow(ctx, `
SELECT
  id, shipment_id, status, status_raw, sub_status, description, event_code,
  location, occurred_at, payload, created_at
FROM tracking_events
WHERE shipment_id = $1 AND status_raw = $2 AND occurred_at = $3 AND location = $4 AND description = $5
`, e.ShipmentID, e.StatusRaw, occurredAt, location, description))
	if err != nil {
		return nil, false, errors.Wrap(err, "select duplicate tracking event")
	}
	return existing, false, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
