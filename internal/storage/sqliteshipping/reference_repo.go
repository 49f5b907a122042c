package sqliteshipping

import (
	"context"
	"database/sql"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

func (s *Storage) UpsertCarrier(ctx context.Context, c models.CarrierDescriptor) (*models.CarrierDescriptor, error) {
	out := c
	err := s.db.QueryRowContext(ctx, `
INSERT INTO carriers (code, name, config_ref)
VALUES (?,?,?)
ON CONFLICT (code) DO UPDATE SET name = excluded.name, config_ref = excluded.config_ref
RETURNING id
`, c.Code, c.Name, c.ConfigRef).Scan(&out.ID)
	if err != nil {
		return nil, errors.Wrap(err, "upsert carrier")
	}
	return &out, nil
}

func (s *Storage) GetCarrier(ctx context.Context, id uint64) (*models.CarrierDescriptor, error) {
	return s.getCarrier(ctx, `WHERE id = ?`, int64(id), id)
}

func (s *Storage) GetCarrierByCode(ctx context.Context, code string) (*models.CarrierDescriptor, error) {
	return s.getCarrier(ctx, `WHERE code = ?`, code, code)
}

func (s *Storage) getCarrier(ctx context.Context, where string, arg, key any) (*models.CarrierDescriptor, error) {
	var c models.CarrierDescriptor
	err := s.db.QueryRowContext(ctx, `SELECT id, code, name, config_ref FROM carriers `+where, arg).
		Scan(&c.ID, &c.Code, &c.Name, &c.ConfigRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shiperr.NotFound("carrier", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select carrier")
	}
	return &c, nil
}

func (s *Storage) CreateWarehouse(ctx context.Context, w models.Warehouse) (*models.Warehouse, error) {
	a := w.PickupAddress
	out := w
	err := s.db.QueryRowContext(ctx, `
INSERT INTO warehouses (name, contact_name, phone, line1, line2, city, state, postal_code, country)
VALUES (?,?,?,?,?,?,?,?,?)
RETURNING id
`, w.Name, a.Name, a.Phone, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country).Scan(&out.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert warehouse")
	}
	return &out, nil
}

func (s *Storage) GetWarehouse(ctx context.Context, id uint64) (*models.Warehouse, error) {
	var w models.Warehouse
	a := &w.PickupAddress
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, contact_name, phone, line1, line2, city, state, postal_code, country
FROM warehouses WHERE id = ?
`, int64(id)).Scan(&w.ID, &w.Name, &a.Name, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode, &a.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shiperr.NotFound("warehouse", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select warehouse")
	}
	return &w, nil
}

func (s *Storage) CreateOrder(ctx context.Context, o models.Order) (*models.Order, error) {
	a := o.DeliveryAddress
	var cod *string
	if o.CODAmount != nil {
		v := o.CODAmount.String()
		cod = &v
	}
	out := o
	err := s.db.QueryRowContext(ctx, `
INSERT INTO orders (
  name, phone, line1, line2, city, state, postal_code, country,
  weight_grams, length_cm, width_cm, height_cm, total_value, cod_amount, warehouse_id
)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
RETURNING id
`, a.Name, a.Phone, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country,
		o.WeightGrams, o.LengthCm, o.WidthCm, o.HeightCm, o.TotalValue.String(), cod, uintArg(o.WarehouseID)).Scan(&out.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}
	return &out, nil
}

func (s *Storage) GetOrder(ctx context.Context, id uint64) (*models.Order, error) {
	var o models.Order
	a := &o.DeliveryAddress
	var total string
	var cod sql.NullString
	var warehouseID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, phone, line1, line2, city, state, postal_code, country,
  weight_grams, length_cm, width_cm, height_cm, total_value, cod_amount, warehouse_id
FROM orders WHERE id = ?
`, int64(id)).Scan(&o.ID, &a.Name, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode, &a.Country,
		&o.WeightGrams, &o.LengthCm, &o.WidthCm, &o.HeightCm, &total, &cod, &warehouseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shiperr.NotFound("order", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}

	if o.TotalValue, err = decimal.NewFromString(total); err != nil {
		return nil, errors.Wrap(err, "parse total_value")
	}
	if cod.Valid {
		d, err := decimal.NewFromString(cod.String)
		if err != nil {
			return nil, errors.Wrap(err, "parse cod_amount")
		}
		o.CODAmount = &d
	}
	o.WarehouseID = scanUintPtr(warehouseID)
	return &o, nil
}
