package fulfillment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
)

// memRepo keeps everything in maps and enforces one live label per shipment like the SQL stores.
type memRepo struct {
	mu         sync.Mutex
	shipments  map[uint64]*models.Shipment
	orders     map[uint64]*models.Order
	carriers   map[uint64]*models.CarrierDescriptor
	warehouses map[uint64]*models.Warehouse
	labels     []*models.Label

	casErr error // returned once by the next CompareAndSetStatus
}

func newMemRepo() *memRepo {
	return &memRepo{
		shipments:  map[uint64]*models.Shipment{},
		orders:     map[uint64]*models.Order{},
		carriers:   map[uint64]*models.CarrierDescriptor{},
		warehouses: map[uint64]*models.Warehouse{},
	}
}

func (r *memRepo) addCarrier(id uint64, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carriers[id] = &models.CarrierDescriptor{ID: id, Code: code, Name: code}
}

func (r *memRepo) addShipment(sh models.Shipment, o models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sh.Status == "" {
		sh.Status = models.ShipmentStatusPending
	}
	if sh.TrackingNumber == "" {
		sh.TrackingNumber = fmt.Sprintf("TN%d", sh.ID)
	}
	if o.ID == 0 {
		o.ID = sh.ID + 1000
	}
	sh.OrderID = o.ID
	r.shipments[sh.ID] = &sh
	r.orders[o.ID] = &o
}

func (r *memRepo) shipment(id uint64) models.Shipment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.shipments[id]
}

func (r *memRepo) liveLabels(shipmentID uint64) []models.Label {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Label
	for _, l := range r.labels {
		if l.ShipmentID == shipmentID && l.Status != models.LabelStatusVoided {
			out = append(out, *l)
		}
	}
	return out
}

func (r *memRepo) GetShipment(_ context.Context, id uint64) (*models.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sh, ok := r.shipments[id]
	if !ok {
		return nil, shiperr.NotFound("shipment", id)
	}
	out := *sh
	return &out, nil
}

func (r *memRepo) GetShipmentByTrackingNumber(_ context.Context, tn string) (*models.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sh := range r.shipments {
		if sh.TrackingNumber == tn {
			out := *sh
			return &out, nil
		}
	}
	return nil, shiperr.NotFound("shipment", tn)
}

func (r *memRepo) UpdateShipmentCarrier(_ context.Context, shipmentID, carrierID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sh, ok := r.shipments[shipmentID]
	if !ok {
		return shiperr.NotFound("shipment", shipmentID)
	}
	sh.CarrierID = carrierID
	return nil
}

func (r *memRepo) CompareAndSetStatus(_ context.Context, ch models.StatusChange) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.casErr; err != nil {
		r.casErr = nil
		return false, err
	}
	sh, ok := r.shipments[ch.ShipmentID]
	if !ok || sh.Status != ch.From {
		return false, nil
	}
	sh.Status = ch.To
	if sh.ShippedAt == nil {
		sh.ShippedAt = ch.ShippedAt
	}
	if sh.DeliveredAt == nil {
		sh.DeliveredAt = ch.DeliveredAt
	}
	sh.UpdatedAt = ch.At
	return true, nil
}

func (r *memRepo) GetCarrier(_ context.Context, id uint64) (*models.CarrierDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carriers[id]
	if !ok {
		return nil, shiperr.NotFound("carrier", id)
	}
	out := *c
	return &out, nil
}

func (r *memRepo) GetCarrierByCode(_ context.Context, code string) (*models.CarrierDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.carriers {
		if c.Code == code {
			out := *c
			return &out, nil
		}
	}
	return nil, shiperr.NotFound("carrier", code)
}

func (r *memRepo) GetOrder(_ context.Context, id uint64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, shiperr.NotFound("order", id)
	}
	out := *o
	return &out, nil
}

func (r *memRepo) GetWarehouse(_ context.Context, id uint64) (*models.Warehouse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.warehouses[id]
	if !ok {
		return nil, shiperr.NotFound("warehouse", id)
	}
	out := *w
	return &out, nil
}

func (r *memRepo) GetActiveLabel(_ context.Context, shipmentID uint64) (*models.Label, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.labels {
		if l.ShipmentID == shipmentID && l.Status != models.LabelStatusVoided {
			out := *l
			return &out, nil
		}
	}
	return nil, nil
}

func (r *memRepo) GetLabelByNumber(_ context.Context, labelNumber string) (*models.Label, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.labels) - 1; i >= 0; i-- {
		if r.labels[i].LabelNumber == labelNumber {
			out := *r.labels[i]
			return &out, nil
		}
	}
	return nil, shiperr.NotFound("label", labelNumber)
}

func (r *memRepo) InsertLabel(_ context.Context, l *models.Label) (*models.Label, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.labels {
		if cur.ShipmentID == l.ShipmentID && cur.Status != models.LabelStatusVoided {
			return nil, shiperr.Conflict("label", l.ShipmentID, "shipment already has a live label")
		}
	}
	stored := *l
	stored.ID = uint64(len(r.labels) + 1)
	r.labels = append(r.labels, &stored)
	out := stored
	return &out, nil
}

func (r *memRepo) MarkLabelVoided(_ context.Context, labelID uint64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.labels {
		if l.ID != labelID {
			continue
		}
		if l.Status == models.LabelStatusVoided {
			return shiperr.Conflict("label", labelID, "label already voided")
		}
		l.Status = models.LabelStatusVoided
		l.VoidedAt = &at
		return nil
	}
	return shiperr.NotFound("label", labelID)
}

// countingClient goes through the real retry executor and counts every attempt that reaches it.
type countingClient struct {
	carrier.Base

	fail     error
	onCall   func()
	hold     time.Duration
	cancelOK bool
	voidOK   bool

	attempts atomic.Int32
	issued   atomic.Int32

	mu     sync.Mutex
	sleeps []time.Duration
	voided []string
}

func newCountingClient(code string) *countingClient {
	c := &countingClient{
		Base: carrier.Base{
			CarrierCode: code,
			LabelPrefix: code,
			Statuses:    carrier.StatusMap{Codes: carrier.CanonicalCodes()},
		},
		cancelOK: true,
		voidOK:   true,
	}
	exec := carrier.NewExecutor(3, 10*time.Millisecond, time.Second)
	exec.Sleep = func(_ context.Context, d time.Duration) error {
		c.mu.Lock()
		c.sleeps = append(c.sleeps, d)
		c.mu.Unlock()
		return nil
	}
	c.Exec = exec
	return c
}

func (c *countingClient) GenerateLabel(ctx context.Context, req carrier.LabelRequest) (carrier.LabelResult, error) {
	err := c.Executor().Do(ctx, func(ctx context.Context) error {
		c.attempts.Add(1)
		if c.onCall != nil {
			c.onCall()
		}
		if c.hold > 0 {
			time.Sleep(c.hold)
		}
		return c.fail
	})
	if err != nil {
		return carrier.LabelResult{}, err
	}
	n := c.issued.Add(1)
	return carrier.LabelResult{
		LabelNumber: fmt.Sprintf("%s-%d-%d", c.CarrierCode, req.ShipmentID, n),
		ServiceName: "test-express",
	}, nil
}

func (c *countingClient) TrackShipment(context.Context, string) carrier.TrackingResult {
	return carrier.UnknownTracking()
}

func (c *countingClient) CancelShipment(context.Context, string, string) bool {
	return c.cancelOK
}

func (c *countingClient) VoidLabel(_ context.Context, labelNumber string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voided = append(c.voided, labelNumber)
	return c.voidOK
}

func (c *countingClient) recordedSleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *countingClient) voidedLabels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.voided...)
}
