package fulfillment

import (
	"context"
	"log/slog"

	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/rateshop"
	"github.com/BearBump/ShipBox/internal/shiperr"
)

// labelInput is everything a label request needs, resolved from the shipment's collaborators.
type labelInput struct {
	shipment  *models.Shipment
	order     *models.Order
	carrier   *models.CarrierDescriptor
	warehouse *models.Warehouse

	origin      string
	destination string
	weightGrams int64
	delivery    models.Address
}

func (s *Service) assemble(ctx context.Context, sh *models.Shipment) (labelInput, error) {
	in := labelInput{shipment: sh}

	order, err := s.repo.GetOrder(ctx, sh.OrderID)
	if err != nil {
		return in, err
	}
	in.order = order

	desc, err := s.repo.GetCarrier(ctx, sh.CarrierID)
	if err != nil {
		return in, err
	}
	in.carrier = desc

	whID := sh.WarehouseID
	if whID == nil {
		whID = order.WarehouseID
	}
	if whID != nil {
		wh, err := s.repo.GetWarehouse(ctx, *whID)
		switch {
		case shiperr.IsNotFound(err):
			slog.Warn("warehouse not found, label without pickup address", "shipment_id", sh.ID, "warehouse_id", *whID)
		case err != nil:
			return in, err
		default:
			in.warehouse = wh
		}
	}

	in.destination = firstNonEmpty(sh.DestinationPostalCode, order.DeliveryAddress.PostalCode)
	if in.destination == "" {
		return in, shiperr.Validationf("destinationPostalCode", "is required for shipment %d", sh.ID)
	}
	in.origin = sh.OriginPostalCode
	if in.origin == "" && in.warehouse != nil {
		in.origin = in.warehouse.PickupAddress.PostalCode
	}
	if in.origin == "" {
		return in, shiperr.Validationf("originPostalCode", "is required for shipment %d", sh.ID)
	}
	in.weightGrams = sh.WeightGrams
	if in.weightGrams <= 0 {
		in.weightGrams = order.WeightGrams
	}
	if in.weightGrams <= 0 {
		return in, shiperr.Validationf("weightGrams", "is required for shipment %d", sh.ID)
	}

	in.delivery = order.DeliveryAddress
	in.delivery.PostalCode = in.destination
	return in, nil
}

// shop consults the rate shop and persists a carrier switch before any label call, so a retry
// after a failed call uses the carrier that was picked.
func (s *Service) shop(ctx context.Context, in labelInput) labelInput {
	if s.shopper == nil {
		return in
	}
	sh := in.shipment
	d, ok := s.shopper.Shop(ctx, rateshop.Criteria{
		ShipmentID:            sh.ID,
		CurrentCarrier:        in.carrier.Code,
		OriginPostalCode:      in.origin,
		DestinationPostalCode: in.destination,
		WeightGrams:           in.weightGrams,
		LengthCm:              firstPositive(sh.LengthCm, in.order.LengthCm),
		WidthCm:               firstPositive(sh.WidthCm, in.order.WidthCm),
		HeightCm:              firstPositive(sh.HeightCm, in.order.HeightCm),
		WarehouseID:           sh.WarehouseID,
	})
	if !ok || sameCarrier(d.CarrierCode, in.carrier.Code) {
		return in
	}

	next, err := s.repo.GetCarrierByCode(ctx, d.CarrierCode)
	if err != nil {
		slog.Warn("rate shop picked an unknown carrier, keeping assigned one",
			"shipment_id", sh.ID, "carrier", d.CarrierCode, "error", err.Error())
		return in
	}
	if err := s.repo.UpdateShipmentCarrier(ctx, sh.ID, next.ID); err != nil {
		slog.Warn("reassign carrier", "shipment_id", sh.ID, "carrier", next.Code, "error", err.Error())
		return in
	}
	s.invalidate(ctx, sh.ID)
	slog.Info("carrier reassigned by rate shop", "shipment_id", sh.ID,
		"from", in.carrier.Code, "to", next.Code, "estimated_cost", d.EstimatedCost.String(), "estimated_days", d.EstimatedDays)

	moved := *sh
	moved.CarrierID = next.ID
	in.shipment = &moved
	in.carrier = next
	return in
}

func (in labelInput) request(format models.LabelFormat) carrier.LabelRequest {
	sh, o := in.shipment, in.order
	delivery := in.delivery
	req := carrier.LabelRequest{
		ShipmentID:     sh.ID,
		TrackingNumber: sh.TrackingNumber,
		WeightGrams:    in.weightGrams,
		LengthCm:       firstPositive(sh.LengthCm, o.LengthCm),
		WidthCm:        firstPositive(sh.WidthCm, o.WidthCm),
		HeightCm:       firstPositive(sh.HeightCm, o.HeightCm),
		Delivery:       &delivery,
		CODAmount:      o.CODAmount,
		Format:         format,
	}
	if !o.TotalValue.IsZero() {
		v := o.TotalValue
		req.DeclaredValue = &v
	}
	if in.warehouse != nil {
		pickup := in.warehouse.PickupAddress
		if pickup.PostalCode == "" {
			pickup.PostalCode = in.origin
		}
		req.Pickup = &pickup
	}
	return req
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
