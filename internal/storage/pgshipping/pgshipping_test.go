package pgshipping

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "shipbox_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/shipbox_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func seedShipment(t *testing.T, st *Storage, tn string) *models.Shipment {
	t.Helper()
	ctx := context.Background()

	c, err := st.UpsertCarrier(ctx, models.CarrierDescriptor{Code: "SANDBOX", Name: "Sandbox"})
	require.NoError(t, err)
	w, err := st.CreateWarehouse(ctx, models.Warehouse{Name: "BLR-1", PickupAddress: models.Address{PostalCode: "560100"}})
	require.NoError(t, err)
	cod := decimal.RequireFromString("250.50")
	o, err := st.CreateOrder(ctx, models.Order{
		DeliveryAddress: models.Address{Name: "R", PostalCode: "560001", City: "Bengaluru"},
		WeightGrams:     500,
		TotalValue:      decimal.RequireFromString("999.99"),
		CODAmount:       &cod,
		WarehouseID:     &w.ID,
	})
	require.NoError(t, err)

	sh, err := st.CreateShipment(ctx, models.NewShipment{
		TrackingNumber:        tn,
		CarrierID:             c.ID,
		OrderID:               o.ID,
		WarehouseID:           &w.ID,
		WeightGrams:           500,
		OriginPostalCode:      "560100",
		DestinationPostalCode: "560001",
	})
	require.NoError(t, err)
	return sh
}

func TestPGShipping_RepoFlow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	sh := seedShipment(t, st, "TN-1")
	require.Equal(t, models.ShipmentStatusPending, sh.Status)

	_, err := st.CreateShipment(ctx, models.NewShipment{TrackingNumber: "TN-1", CarrierID: sh.CarrierID, OrderID: sh.OrderID})
	require.True(t, shiperr.IsConflict(err))

	o, err := st.GetOrder(ctx, sh.OrderID)
	require.NoError(t, err)
	require.Equal(t, "999.99", o.TotalValue.StringFixed(2))
	require.Equal(t, "250.5", o.CODAmount.String())

	_, err = st.GetShipment(ctx, 999999)
	require.True(t, shiperr.IsNotFound(err))

	// labels: one live label per shipment
	now := time.Now().UTC()
	l1, err := st.InsertLabel(ctx, &models.Label{
		ShipmentID: sh.ID, LabelNumber: "SBX1", CarrierCode: "SANDBOX", Format: models.LabelFormatPDF,
		Status: models.LabelStatusGenerated, RequestedAt: now, GeneratedAt: &now,
	})
	require.NoError(t, err)
	_, err = st.InsertLabel(ctx, &models.Label{
		ShipmentID: sh.ID, LabelNumber: "SBX2", CarrierCode: "SANDBOX", Format: models.LabelFormatPDF,
		Status: models.LabelStatusGenerated, RequestedAt: now,
	})
	require.True(t, shiperr.IsConflict(err))

	active, err := st.GetActiveLabel(ctx, sh.ID)
	require.NoError(t, err)
	require.Equal(t, l1.ID, active.ID)

	require.NoError(t, st.MarkLabelVoided(ctx, l1.ID, now))
	require.True(t, shiperr.IsConflict(st.MarkLabelVoided(ctx, l1.ID, now)))
	active, err = st.GetActiveLabel(ctx, sh.ID)
	require.NoError(t, err)
	require.Nil(t, active)

	// status CAS
	ok, err := st.CompareAndSetStatus(ctx, models.StatusChange{
		ShipmentID: sh.ID, From: models.ShipmentStatusPending, To: models.ShipmentStatusShipped, ShippedAt: &now, At: now,
	})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.CompareAndSetStatus(ctx, models.StatusChange{
		ShipmentID: sh.ID, From: models.ShipmentStatusPending, To: models.ShipmentStatusCancelled, At: now,
	})
	require.NoError(t, err)
	require.False(t, ok)

	got, err := st.GetShipment(ctx, sh.ID)
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusShipped, got.Status)
	require.NotNil(t, got.ShippedAt)
	require.NotNil(t, got.NextCheckAt)

	// events dedup
	desc := "Picked up"
	payload := `{"code":"PU"}`
	ev := &models.TrackingEvent{
		ShipmentID: sh.ID, Status: models.ShipmentStatusShipped, StatusRaw: "PU",
		Description: &desc, OccurredAt: now, PayloadJSON: &payload,
	}
	first, inserted, err := st.AppendTrackingEvent(ctx, ev)
	require.NoError(t, err)
	require.True(t, inserted)
	second, inserted, err := st.AppendTrackingEvent(ctx, ev)
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, first.ID, second.ID)

	raw := "not json"
	_, _, err = st.AppendTrackingEvent(ctx, &models.TrackingEvent{
		ShipmentID: sh.ID, Status: models.ShipmentStatusInTransit, StatusRaw: "IT",
		OccurredAt: now.Add(time.Hour), PayloadJSON: &raw,
	})
	require.NoError(t, err)

	evs, err := st.ListTrackingEvents(ctx, sh.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, "IT", evs[0].StatusRaw)
	require.Equal(t, "not json", *evs[0].PayloadJSON)
	require.JSONEq(t, payload, *evs[1].PayloadJSON)
}

func TestPGShipping_RawPayloadKeptVerbatim(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	sh := seedShipment(t, st, "TN-RAW")

	// key order, spacing and duplicate keys are all part of the audit record
	raw := "{ \"z\": 1,\n  \"a\": [ 2, 1 ], \"a\": \"dup\" }"
	stored, inserted, err := st.AppendTrackingEvent(ctx, &models.TrackingEvent{
		ShipmentID: sh.ID, Status: models.ShipmentStatusInTransit, StatusRaw: "IT",
		OccurredAt: time.Now().UTC().Truncate(time.Microsecond), PayloadJSON: &raw,
	})
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, raw, *stored.PayloadJSON)

	evs, err := st.ListTrackingEvents(ctx, sh.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, raw, *evs[0].PayloadJSON)
}

func TestPGShipping_ClaimDueShipments(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	a := seedShipment(t, st, "TN-A")
	b := seedShipment(t, st, "TN-B")
	now := time.Now().UTC()
	for _, sh := range []*models.Shipment{a, b} {
		ok, err := st.CompareAndSetStatus(ctx, models.StatusChange{
			ShipmentID: sh.ID, From: models.ShipmentStatusPending, To: models.ShipmentStatusShipped, ShippedAt: &now, At: now,
		})
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, st.ScheduleNextCheck(ctx, a.ID, now.Add(-time.Minute), false))
	require.NoError(t, st.ScheduleNextCheck(ctx, b.ID, now.Add(time.Hour), true))

	lease := 10 * time.Second
	due, err := st.ClaimDueShipments(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, a.ID, due[0].ID)
	require.WithinDuration(t, now.Add(lease), *due[0].NextCheckAt, 2*time.Second)

	again, err := st.ClaimDueShipments(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Empty(t, again)

	got, err := st.GetShipment(ctx, b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, got.CheckFailCount)
}
