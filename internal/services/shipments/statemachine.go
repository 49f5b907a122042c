// Package shipments holds the shipment lifecycle rules shared by label creation,
// tracking ingestion and manual updates.
//
//	PENDING -> SHIPPED -> IN_TRANSIT -> DELIVERED
//	any non-terminal -> CANCELLED
package shipments

import (
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
)

var rank = map[models.ShipmentStatus]int{
	models.ShipmentStatusPending:   0,
	models.ShipmentStatusShipped:   1,
	models.ShipmentStatusInTransit: 2,
	models.ShipmentStatusDelivered: 3,
}

// Rank orders the forward statuses. CANCELLED and UNKNOWN have no rank.
func Rank(s models.ShipmentStatus) (int, bool) {
	r, ok := rank[s]
	return r, ok
}

// Next returns the status a shipment in current ends up in after an event classified as incoming.
// changed is false when the event is UNKNOWN, would move the shipment backwards or current is terminal.
func Next(current, incoming models.ShipmentStatus) (next models.ShipmentStatus, changed bool) {
	if current.Terminal() {
		return current, false
	}
	if incoming == models.ShipmentStatusCancelled {
		return incoming, true
	}
	to, ok := rank[incoming]
	if !ok {
		return current, false
	}
	from, ok := rank[current]
	if !ok || to <= from {
		return current, false
	}
	return incoming, true
}

// Plan builds the compare-and-set change that moves sh towards incoming at time at.
// Timestamps are only filled when still empty: shippedAt for anything past PENDING,
// deliveredAt for DELIVERED.
func Plan(sh *models.Shipment, incoming models.ShipmentStatus, at time.Time) (models.StatusChange, bool) {
	next, ok := Next(sh.Status, incoming)
	if !ok {
		return models.StatusChange{}, false
	}
	return change(sh, next, at), true
}

func change(sh *models.Shipment, to models.ShipmentStatus, at time.Time) models.StatusChange {
	ch := models.StatusChange{
		ShipmentID: sh.ID,
		From:       sh.Status,
		To:         to,
		At:         at,
	}
	if r, ok := rank[to]; ok && r > 0 && sh.ShippedAt == nil {
		t := at
		ch.ShippedAt = &t
	}
	if to == models.ShipmentStatusDelivered && sh.DeliveredAt == nil {
		t := at
		ch.DeliveredAt = &t
	}
	return ch
}

// ValidateManual checks an administrative status change. Unlike Next it reports why
// a change is refused instead of ignoring it.
func ValidateManual(sh *models.Shipment, to models.ShipmentStatus) error {
	if !to.Valid() {
		return shiperr.Validationf("status", "unsupported status %q", to)
	}
	if sh.Status.Terminal() && to != sh.Status {
		return shiperr.Validationf("status", "shipment %d is %s and cannot change", sh.ID, sh.Status)
	}
	if to == models.ShipmentStatusPending && sh.ShippedAt != nil {
		return shiperr.Validationf("status", "shipment %d was already shipped and cannot return to PENDING", sh.ID)
	}
	if to != models.ShipmentStatusDelivered && sh.DeliveredAt != nil {
		return shiperr.Validationf("status", "shipment %d was delivered and cannot become %s", sh.ID, to)
	}
	return nil
}

// PlanManual is ValidateManual followed by the change to apply. A manual update may move a
// shipment backwards as long as the timestamps allow it; setting the current status is a no-op.
func PlanManual(sh *models.Shipment, to models.ShipmentStatus, at time.Time) (models.StatusChange, bool, error) {
	if err := ValidateManual(sh, to); err != nil {
		return models.StatusChange{}, false, err
	}
	if to == sh.Status {
		return models.StatusChange{}, false, nil
	}
	return change(sh, to, at), true, nil
}
