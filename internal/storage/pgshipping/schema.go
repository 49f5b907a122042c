package pgshipping

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS carriers (
  id BIGSERIAL PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  config_ref TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS warehouses (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  contact_name TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  line1 TEXT NOT NULL DEFAULT '',
  line2 TEXT NOT NULL DEFAULT '',
  city TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT '',
  postal_code TEXT NOT NULL DEFAULT '',
  country TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  line1 TEXT NOT NULL DEFAULT '',
  line2 TEXT NOT NULL DEFAULT '',
  city TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT '',
  postal_code TEXT NOT NULL DEFAULT '',
  country TEXT NOT NULL DEFAULT '',
  weight_grams BIGINT NOT NULL DEFAULT 0,
  length_cm DOUBLE PRECISION NOT NULL DEFAULT 0,
  width_cm DOUBLE PRECISION NOT NULL DEFAULT 0,
  height_cm DOUBLE PRECISION NOT NULL DEFAULT 0,
  total_value NUMERIC(14,2) NOT NULL DEFAULT 0,
  cod_amount NUMERIC(14,2) NULL,
  warehouse_id BIGINT NULL REFERENCES warehouses(id)
)`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  tracking_number TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL,
  carrier_id BIGINT NOT NULL REFERENCES carriers(id),
  order_id BIGINT NOT NULL REFERENCES orders(id),
  warehouse_id BIGINT NULL REFERENCES warehouses(id),
  weight_grams BIGINT NOT NULL DEFAULT 0,
  length_cm DOUBLE PRECISION NOT NULL DEFAULT 0,
  width_cm DOUBLE PRECISION NOT NULL DEFAULT 0,
  height_cm DOUBLE PRECISION NOT NULL DEFAULT 0,
  origin_postal_code TEXT NOT NULL DEFAULT '',
  destination_postal_code TEXT NOT NULL DEFAULT '',
  shipped_at TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  next_check_at TIMESTAMPTZ NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_next_check_at ON shipments(next_check_at) WHERE status IN ('SHIPPED', 'IN_TRANSIT')`,
		`
CREATE TABLE IF NOT EXISTS labels (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id),
  label_number TEXT NOT NULL,
  carrier_code TEXT NOT NULL,
  format TEXT NOT NULL,
  label_url TEXT NULL,
  tracking_url TEXT NULL,
  service_name TEXT NOT NULL DEFAULT '',
  estimated_delivery_date TIMESTAMPTZ NULL,
  status TEXT NOT NULL,
  fallback BOOLEAN NOT NULL DEFAULT FALSE,
  failure_reason TEXT NULL,
  requested_at TIMESTAMPTZ NOT NULL,
  generated_at TIMESTAMPTZ NULL,
  voided_at TIMESTAMPTZ NULL
)`,
		// At most one live label per shipment.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_labels_live_shipment ON labels(shipment_id) WHERE status <> 'VOIDED'`,
		`CREATE INDEX IF NOT EXISTS idx_labels_label_number ON labels(label_number)`,
		`
CREATE TABLE IF NOT EXISTS tracking_events (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  status_raw TEXT NOT NULL,
  sub_status TEXT NULL,
  description TEXT NOT NULL DEFAULT '',
  event_code TEXT NULL,
  location TEXT NOT NULL DEFAULT '',
  occurred_at TIMESTAMPTZ NOT NULL,
  payload TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_events_shipment_occurred ON tracking_events(shipment_id, occurred_at DESC)`,
		`ALTER TABLE tracking_events ALTER COLUMN payload TYPE TEXT USING payload::text`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_events_dedup ON tracking_events(shipment_id, status_raw, occurred_at, location, description)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
