package sqliteshipping

import (
	"context"
	"database/sql"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
)

const eventColumns = `
  id, shipment_id, status, status_raw, sub_status, description, event_code,
  location, occurred_at, payload, created_at`

func scanEvent(row rowScanner) (*models.TrackingEvent, error) {
	var e models.TrackingEvent
	var subStatus, eventCode, payload sql.NullString
	var description, location, occurredAt, createdAt string
	if err := row.Scan(
		&e.ID, &e.ShipmentID, &e.Status, &e.StatusRaw, &subStatus, &description, &eventCode,
		&location, &occurredAt, &payload, &createdAt,
	); err != nil {
		return nil, err
	}
	e.SubStatus = scanStringPtr(subStatus)
	e.EventCode = scanStringPtr(eventCode)
	e.PayloadJSON = scanStringPtr(payload)
	if description != "" {
		e.Description = &description
	}
	if location != "" {
		e.Location = &location
	}
	e.OccurredAt = scanTime(occurredAt)
	e.CreatedAt = scanTime(createdAt)
	return &e, nil
}

func (s *Storage) ListTrackingEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT`+eventColumns+`
FROM tracking_events
WHERE shipment_id = ?
ORDER BY occurred_at DESC, id DESC
LIMIT ? OFFSET ?
`, int64(shipmentID), limit, offset)
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

func (s *Storage) AppendTrackingEvent(ctx context.Context, e *models.TrackingEvent) (*models.TrackingEvent, bool, error) {
	occurredAt := formatTime(e.OccurredAt)
	description := deref(e.Description)
	location := deref(e.Location)

	out, err := scanEvent(s.db.QueryRowContext(ctx, `
INSERT INTO tracking_events (
  shipment_id, status, status_raw, sub_status, description, event_code,
  location, occurred_at, payload, created_at
)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (shipment_id, status_raw, occurred_at, location, description) DO NOTHING
RETURNING`+eventColumns,
		int64(e.ShipmentID), string(e.Status), e.StatusRaw, e.SubStatus, description, e.EventCode,
		location, occurredAt, e.PayloadJSON, formatTime(time.Now())))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, errors.Wrap(err, "insert tracking event")
	}

	existing, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT`+eventColumns+`
FROM tracking_events
WHERE shipment_id = ? AND status_raw = ? AND occurred_at = ? AND location = ? AND description = ?
`, int64(e.ShipmentID), e.StatusRaw, occurredAt, location, description))
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
