package sqliteshipping

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Storage {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "shipbox.db"))
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
	o, err := st.CreateOrder(ctx, models.Order{
		DeliveryAddress: models.Address{PostalCode: "560001"},
		WeightGrams:     500,
		TotalValue:      decimal.RequireFromString("120.00"),
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

func TestStorage_ReferenceData(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()

	c1, err := st.UpsertCarrier(ctx, models.CarrierDescriptor{Code: "BLAZE", Name: "Blaze"})
	require.NoError(t, err)
	c2, err := st.UpsertCarrier(ctx, models.CarrierDescriptor{Code: "BLAZE", Name: "Blaze Express"})
	require.NoError(t, err)
	require.Equal(t, c1.ID, c2.ID)

	got, err := st.GetCarrierByCode(ctx, "BLAZE")
	require.NoError(t, err)
	require.Equal(t, "Blaze Express", got.Name)

	_, err = st.GetCarrier(ctx, 404)
	require.True(t, shiperr.IsNotFound(err))

	cod := decimal.RequireFromString("75.25")
	o, err := st.CreateOrder(ctx, models.Order{TotalValue: decimal.RequireFromString("300"), CODAmount: &cod})
	require.NoError(t, err)
	o2, err := st.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, o2.TotalValue.Equal(decimal.NewFromInt(300)))
	require.True(t, o2.CODAmount.Equal(cod))
	require.Nil(t, o2.WarehouseID)

	_, err = st.GetWarehouse(ctx, 1)
	require.True(t, shiperr.IsNotFound(err))
}

func TestStorage_ShipmentLabelFlow(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()
	sh := seedShipment(t, st, "TN-1")

	_, err := st.CreateShipment(ctx, models.NewShipment{TrackingNumber: "TN-1", CarrierID: sh.CarrierID, OrderID: sh.OrderID})
	require.True(t, shiperr.IsConflict(err))

	byTN, err := st.GetShipmentByTrackingNumber(ctx, "TN-1")
	require.NoError(t, err)
	require.Equal(t, sh.ID, byTN.ID)
	require.Equal(t, *sh.WarehouseID, *byTN.WarehouseID)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	url := "https://labels/1.pdf"
	l, err := st.InsertLabel(ctx, &models.Label{
		ShipmentID: sh.ID, LabelNumber: "SBX1", CarrierCode: "SANDBOX", Format: models.LabelFormatPDF,
		LabelURL: &url, Status: models.LabelStatusGenerated, RequestedAt: now, GeneratedAt: &now,
	})
	require.NoError(t, err)
	require.Equal(t, url, *l.LabelURL)
	require.False(t, l.Fallback)

	_, err = st.InsertLabel(ctx, &models.Label{
		ShipmentID: sh.ID, LabelNumber: "SBX2", CarrierCode: "SANDBOX", Format: models.LabelFormatPDF,
		Status: models.LabelStatusPending, Fallback: true, RequestedAt: now,
	})
	require.True(t, shiperr.IsConflict(err))

	byNumber, err := st.GetLabelByNumber(ctx, "SBX1")
	require.NoError(t, err)
	require.Equal(t, l.ID, byNumber.ID)
	require.Equal(t, now, byNumber.RequestedAt)

	require.NoError(t, st.MarkLabelVoided(ctx, l.ID, now))
	active, err := st.GetActiveLabel(ctx, sh.ID)
	require.NoError(t, err)
	require.Nil(t, active)

	// a voided label frees the slot
	l2, err := st.InsertLabel(ctx, &models.Label{
		ShipmentID: sh.ID, LabelNumber: "SBX3", CarrierCode: "SANDBOX", Format: models.LabelFormatZPL,
		Status: models.LabelStatusPending, Fallback: true, RequestedAt: now,
	})
	require.NoError(t, err)
	require.True(t, l2.Fallback)

	ok, err := st.CompareAndSetStatus(ctx, models.StatusChange{
		ShipmentID: sh.ID, From: models.ShipmentStatusPending, To: models.ShipmentStatusShipped, ShippedAt: &now, At: now,
	})
	require.NoError(t, err)
	require.True(t, ok)

	later := now.Add(48 * time.Hour)
	ok, err = st.CompareAndSetStatus(ctx, models.StatusChange{
		ShipmentID: sh.ID, From: models.ShipmentStatusShipped, To: models.ShipmentStatusDelivered,
		ShippedAt: &later, DeliveredAt: &later, At: later,
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := st.GetShipment(ctx, sh.ID)
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusDelivered, got.Status)
	require.Equal(t, now, *got.ShippedAt)
	require.Equal(t, later, *got.DeliveredAt)
	require.Nil(t, got.NextCheckAt)

	require.NoError(t, st.UpdateShipmentCarrier(ctx, sh.ID, sh.CarrierID))
	require.True(t, shiperr.IsNotFound(st.UpdateShipmentCarrier(ctx, 999, sh.CarrierID)))
}

func TestStorage_TrackingEvents(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()
	sh := seedShipment(t, st, "TN-E")

	t0 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	loc := "BLR"
	payload := `{"scan":"PU"}`
	ev := &models.TrackingEvent{
		ShipmentID: sh.ID, Status: models.ShipmentStatusShipped, StatusRaw: "PU",
		Location: &loc, OccurredAt: t0, PayloadJSON: &payload,
	}
	first, inserted, err := st.AppendTrackingEvent(ctx, ev)
	require.NoError(t, err)
	require.True(t, inserted)
	dup, inserted, err := st.AppendTrackingEvent(ctx, ev)
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, first.ID, dup.ID)

	_, inserted, err = st.AppendTrackingEvent(ctx, &models.TrackingEvent{
		ShipmentID: sh.ID, Status: models.ShipmentStatusInTransit, StatusRaw: "IT", OccurredAt: t0.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.True(t, inserted)

	evs, err := st.ListTrackingEvents(ctx, sh.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, "PU", evs[0].StatusRaw)
	require.Equal(t, payload, *evs[0].PayloadJSON)
	require.Equal(t, "BLR", *evs[0].Location)
	require.Nil(t, evs[1].Location)
}

func TestStorage_ClaimDueShipments(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()

	a := seedShipment(t, st, "TN-A")
	b := seedShipment(t, st, "TN-B")
	c := seedShipment(t, st, "TN-C")
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
	// pending shipments are never scheduled
	require.NoError(t, st.ScheduleNextCheck(ctx, c.ID, now.Add(-time.Hour), false))

	due, err := st.ClaimDueShipments(ctx, now, 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, a.ID, due[0].ID)

	again, err := st.ClaimDueShipments(ctx, now, 10, 30*time.Second)
	require.NoError(t, err)
	require.Empty(t, again)

	gotB, err := st.GetShipment(ctx, b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, gotB.CheckFailCount)
	gotC, err := st.GetShipment(ctx, c.ID)
	require.NoError(t, err)
	require.Nil(t, gotC.NextCheckAt)
}
