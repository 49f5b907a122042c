package shipping_api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/batch"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeFulfillment struct {
	label      *models.Label
	err        error
	gotID      uint64
	gotFormat  models.LabelFormat
	gotTN      string
	gotReason  string
	cancelled  bool
	voided     bool
	bulkIDs    []uint64
	bulkCancel []string
}

func (f *fakeFulfillment) CreateLabel(_ context.Context, id uint64, format models.LabelFormat) (*models.Label, error) {
	f.gotID, f.gotFormat = id, format
	return f.label, f.err
}

func (f *fakeFulfillment) CancelShipment(_ context.Context, tn, reason string) (bool, error) {
	f.gotTN, f.gotReason = tn, reason
	return f.cancelled, f.err
}

func (f *fakeFulfillment) VoidLabel(_ context.Context, labelNumber string) (bool, error) {
	f.gotTN = labelNumber
	return f.voided, f.err
}

func (f *fakeFulfillment) RunBulkLabelGeneration(_ context.Context, ids []uint64, format models.LabelFormat) (*batch.Result[uint64], error) {
	f.bulkIDs, f.gotFormat = ids, format
	return &batch.Result[uint64]{
		Total:         len(ids),
		Successful:    len(ids) - 1,
		Failed:        1,
		SuccessfulIDs: ids[:len(ids)-1],
		FailedIDs:     ids[len(ids)-1:],
		Errors:        []batch.ItemError[uint64]{{ID: ids[len(ids)-1], Error: "shipment not found"}},
	}, f.err
}

func (f *fakeFulfillment) RunBulkCancel(_ context.Context, tns []string, reason string) (*batch.Result[string], error) {
	f.bulkCancel, f.gotReason = tns, reason
	return &batch.Result[string]{Total: len(tns), Successful: len(tns), SuccessfulIDs: tns}, f.err
}

type fakeTrackings struct {
	shipment *models.Shipment
	events   []*models.TrackingEvent
	err      error
	gotIn    models.TrackingInput
	limit    int
	offset   int
	status   models.ShipmentStatus
}

func (f *fakeTrackings) IngestTracking(_ context.Context, in models.TrackingInput) (*models.TrackingEvent, error) {
	f.gotIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &models.TrackingEvent{ID: 1, ShipmentID: in.ShipmentID, Status: models.ShipmentStatusDelivered, StatusRaw: in.Status, OccurredAt: in.OccurredAt, PayloadJSON: in.RawPayload}, nil
}

func (f *fakeTrackings) GetShipment(_ context.Context, id uint64) (*models.Shipment, error) {
	return f.shipment, f.err
}

func (f *fakeTrackings) ListTrackingEvents(_ context.Context, id uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	f.limit, f.offset = limit, offset
	return f.events, f.err
}

func (f *fakeTrackings) UpdateShipmentStatus(_ context.Context, id uint64, status models.ShipmentStatus) (*models.Shipment, error) {
	f.status = status
	if f.err != nil {
		return nil, f.err
	}
	out := *f.shipment
	out.Status = status
	return &out, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestCreateLabel(t *testing.T) {
	f := &fakeFulfillment{label: &models.Label{ID: 3, ShipmentID: 42, LabelNumber: "SBX0000000042", CarrierCode: "SANDBOX", Format: models.LabelFormatZPL, Status: models.LabelStatusGenerated}}
	h := New(f, &fakeTrackings{}).Routes()

	rec, out := do(t, h, http.MethodPost, "/v1/shipments/42/label", `{"format":"ZPL"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(42), f.gotID)
	require.Equal(t, models.LabelFormatZPL, f.gotFormat)
	require.Equal(t, "SBX0000000042", out["labelNumber"])
	require.Equal(t, "GENERATED", out["status"])
	require.Nil(t, out["labelUrl"])

	rec, _ = do(t, h, http.MethodPost, "/v1/shipments/42/label", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.LabelFormat(""), f.gotFormat)
}

func TestCreateLabel_BadInput(t *testing.T) {
	h := New(&fakeFulfillment{}, &fakeTrackings{}).Routes()

	rec, out := do(t, h, http.MethodPost, "/v1/shipments/abc/label", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "id", out["field"])

	rec, out = do(t, h, http.MethodPost, "/v1/shipments/1/label", `{"format":"PNG"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "format", out["field"])
	require.Equal(t, "validation", out["kind"])

	rec, _ = do(t, h, http.MethodPost, "/v1/shipments/1/label", `{"format":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{shiperr.NotFound("shipment", 42), http.StatusNotFound},
		{shiperr.Conflict("label", 42, "label generation already in progress"), http.StatusConflict},
		{shiperr.Carrier("BLAZE", 503, true, errors.New("unavailable")), http.StatusBadGateway},
		{errors.Wrap(shiperr.Validation("weightGrams", "is required"), "create label"), http.StatusBadRequest},
		{errors.New("pool closed"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := New(&fakeFulfillment{err: tc.err}, &fakeTrackings{}).Routes()
		rec, out := do(t, h, http.MethodPost, "/v1/shipments/42/label", "")
		require.Equal(t, tc.code, rec.Code, tc.err.Error())
		if tc.code == http.StatusInternalServerError {
			require.Equal(t, "internal error", out["error"])
		}
	}
}

func TestBulkLabels(t *testing.T) {
	f := &fakeFulfillment{}
	h := New(f, &fakeTrackings{}).Routes()

	rec, out := do(t, h, http.MethodPost, "/v1/labels/bulk", `{"shipmentIds":[1,2,3],"format":"PDF"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []uint64{1, 2, 3}, f.bulkIDs)
	require.EqualValues(t, 3, out["total"])
	require.EqualValues(t, 1, out["failed"])
	require.Equal(t, []any{float64(3)}, out["failedIds"])

	rec, out = do(t, h, http.MethodPost, "/v1/labels/bulk", `{"shipmentIds":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "shipmentIds", out["field"])
}

func TestCancelAndVoid(t *testing.T) {
	f := &fakeFulfillment{cancelled: true, voided: false}
	h := New(f, &fakeTrackings{}).Routes()

	rec, out := do(t, h, http.MethodPost, "/v1/shipments/cancel", `{"trackingNumber":"TN42","reason":"customer request"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, out["cancelled"])
	require.Equal(t, "TN42", f.gotTN)
	require.Equal(t, "customer request", f.gotReason)

	rec, out = do(t, h, http.MethodPost, "/v1/shipments/cancel", `{"reason":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "trackingNumber", out["field"])

	rec, out = do(t, h, http.MethodPost, "/v1/shipments/cancel/bulk", `{"trackingNumbers":["TN1","TN2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 2, out["successful"])
	require.Equal(t, []string{"TN1", "TN2"}, f.bulkCancel)

	rec, out = do(t, h, http.MethodPost, "/v1/labels/BLZ-42/void", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, out["voided"])
	require.Equal(t, "BLZ-42", f.gotTN)
}

func TestIngestTracking(t *testing.T) {
	tr := &fakeTrackings{}
	h := New(&fakeFulfillment{}, tr).Routes()

	body := `{"shipmentId":42,"trackingNumber":"TN42","status":"DL","location":"Bengaluru",
		"occurredAt":"2025-03-04T15:30:00Z","rawPayload":{"scan":"DL","hub":"BLR1"}}`
	rec, out := do(t, h, http.MethodPost, "/v1/tracking-events", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "DELIVERED", out["status"])
	require.Equal(t, uint64(42), tr.gotIn.ShipmentID)
	require.Equal(t, "DL", tr.gotIn.Status)
	require.NotNil(t, tr.gotIn.Location)
	require.True(t, tr.gotIn.OccurredAt.Equal(time.Date(2025, 3, 4, 15, 30, 0, 0, time.UTC)))
	require.NotNil(t, tr.gotIn.RawPayload)
	require.JSONEq(t, `{"scan":"DL","hub":"BLR1"}`, *tr.gotIn.RawPayload)
	require.Equal(t, map[string]any{"scan": "DL", "hub": "BLR1"}, out["rawPayload"])
}

func TestIngestTracking_ServiceValidation(t *testing.T) {
	tr := &fakeTrackings{err: shiperr.Validation("trackingNumber", "is required")}
	h := New(&fakeFulfillment{}, tr).Routes()

	rec, out := do(t, h, http.MethodPost, "/v1/tracking-events", `{"shipmentId":42,"status":"DL","occurredAt":"2025-03-04T15:30:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "trackingNumber", out["field"])
	require.Nil(t, tr.gotIn.RawPayload)
}

func TestShipmentReads(t *testing.T) {
	shippedAt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tr := &fakeTrackings{
		shipment: &models.Shipment{ID: 42, TrackingNumber: "TN42", Status: models.ShipmentStatusShipped, ShippedAt: &shippedAt},
		events: []*models.TrackingEvent{
			{ID: 2, ShipmentID: 42, Status: models.ShipmentStatusInTransit, StatusRaw: "IT", OccurredAt: shippedAt.Add(time.Hour)},
		},
	}
	h := New(&fakeFulfillment{}, tr).Routes()

	rec, out := do(t, h, http.MethodGet, "/v1/shipments/42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "SHIPPED", out["status"])
	require.Equal(t, "2025-03-01T09:00:00Z", out["shippedAt"])

	rec, out = do(t, h, http.MethodGet, "/v1/shipments/42/events?limit=5&offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, tr.limit)
	require.Equal(t, 10, tr.offset)
	require.Len(t, out["events"], 1)

	rec, out = do(t, h, http.MethodGet, "/v1/shipments/42/events?limit=ten", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "limit", out["field"])
}

func TestUpdateStatus(t *testing.T) {
	tr := &fakeTrackings{shipment: &models.Shipment{ID: 42, Status: models.ShipmentStatusShipped}}
	h := New(&fakeFulfillment{}, tr).Routes()

	rec, out := do(t, h, http.MethodPatch, "/v1/shipments/42/status", `{"status":"IN_TRANSIT"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "IN_TRANSIT", out["status"])
	require.Equal(t, models.ShipmentStatusInTransit, tr.status)

	rec, out = do(t, h, http.MethodPatch, "/v1/shipments/42/status", `{"status":"LOST"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "status", out["field"])
}
