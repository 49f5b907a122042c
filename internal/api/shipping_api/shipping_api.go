// Package shipping_api serves the fulfillment and tracking operations over HTTP.
package shipping_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/batch"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/BearBump/ShipBox/internal/validate"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

const maxBody = 1 << 20

type Fulfillment interface {
	CreateLabel(ctx context.Context, shipmentID uint64, format models.LabelFormat) (*models.Label, error)
	CancelShipment(ctx context.Context, trackingNumber, reason string) (bool, error)
	VoidLabel(ctx context.Context, labelNumber string) (bool, error)
	RunBulkLabelGeneration(ctx context.Context, shipmentIDs []uint64, format models.LabelFormat) (*batch.Result[uint64], error)
	RunBulkCancel(ctx context.Context, trackingNumbers []string, reason string) (*batch.Result[string], error)
}

type Trackings interface {
	IngestTracking(ctx context.Context, in models.TrackingInput) (*models.TrackingEvent, error)
	GetShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	ListTrackingEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error)
	UpdateShipmentStatus(ctx context.Context, id uint64, status models.ShipmentStatus) (*models.Shipment, error)
}

type ShippingAPI struct {
	fulfillment Fulfillment
	trackings   Trackings
}

func New(f Fulfillment, t Trackings) *ShippingAPI {
	return &ShippingAPI{fulfillment: f, trackings: t}
}

// Routes mounts every operation under /v1.
func (a *ShippingAPI) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/shipments/{id}/label", a.createLabel)
		r.Get("/shipments/{id}", a.getShipment)
		r.Get("/shipments/{id}/events", a.listEvents)
		r.Patch("/shipments/{id}/status", a.updateStatus)
		r.Post("/shipments/cancel", a.cancelShipment)
		r.Post("/shipments/cancel/bulk", a.bulkCancel)

		r.Post("/labels/bulk", a.bulkLabels)
		r.Post("/labels/{labelNumber}/void", a.voidLabel)

		r.Post("/tracking-events", a.ingestTracking)
	})
	return r
}

func (a *ShippingAPI) createLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req createLabelRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	l, err := a.fulfillment.CreateLabel(r.Context(), id, models.LabelFormat(req.Format))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLabel(l))
}

func (a *ShippingAPI) bulkLabels(w http.ResponseWriter, r *http.Request) {
	var req bulkLabelsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.fulfillment.RunBulkLabelGeneration(r.Context(), req.ShipmentIDs, models.LabelFormat(req.Format))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *ShippingAPI) cancelShipment(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}
	ok, err := a.fulfillment.CancelShipment(r.Context(), req.TrackingNumber, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (a *ShippingAPI) bulkCancel(w http.ResponseWriter, r *http.Request) {
	var req bulkCancelRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.fulfillment.RunBulkCancel(r.Context(), req.TrackingNumbers, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *ShippingAPI) voidLabel(w http.ResponseWriter, r *http.Request) {
	ok, err := a.fulfillment.VoidLabel(r.Context(), chi.URLParam(r, "labelNumber"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"voided": ok})
}

func (a *ShippingAPI) ingestTracking(w http.ResponseWriter, r *http.Request) {
	var req trackingRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := a.trackings.IngestTracking(r.Context(), req.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEvent(ev))
}

func (a *ShippingAPI) getShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sh, err := a.trackings.GetShipment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipment(sh))
}

func (a *ShippingAPI) listEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}
	evs, err := a.trackings.ListTrackingEvents(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(evs))
	for _, e := range evs {
		out = append(out, toEvent(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (a *ShippingAPI) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	sh, err := a.trackings.UpdateShipmentStatus(r.Context(), id, models.ShipmentStatus(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipment(sh))
}

// decode reads a JSON body into dst and validates it; on failure the response is already written.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		writeError(w, shiperr.Validation("body", "malformed JSON: "+err.Error()))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, shiperr.Validation("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, shiperr.Validation(name, "must be an integer")
	}
	return n, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := shiperr.KindOf(err)
	resp := errorResponse{Error: err.Error(), Kind: kind.String()}
	var se *shiperr.Error
	if errors.As(err, &se) {
		resp.Field = se.Field
	}

	code := http.StatusInternalServerError
	switch kind {
	case shiperr.KindValidation:
		code = http.StatusBadRequest
	case shiperr.KindNotFound:
		code = http.StatusNotFound
	case shiperr.KindConflict:
		code = http.StatusConflict
	case shiperr.KindCarrier:
		code = http.StatusBadGateway
	default:
		slog.Error("request failed", "error", err.Error())
		resp.Error = "internal error"
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err.Error())
	}
}
