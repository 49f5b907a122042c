package carrier

import (
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
)

// Validate checks the inputs every carrier needs before any network call is made.
func (r LabelRequest) Validate() error {
	if r.ShipmentID == 0 {
		return shiperr.Validation("shipmentId", "is required")
	}
	if r.WeightGrams <= 0 {
		return shiperr.Validationf("weightGrams", "is required for shipment %d", r.ShipmentID)
	}
	if r.Delivery == nil {
		return shiperr.Validationf("deliveryAddress", "is required for shipment %d", r.ShipmentID)
	}
	if r.Delivery.PostalCode == "" {
		return shiperr.Validationf("deliveryAddress.postalCode", "is required for shipment %d", r.ShipmentID)
	}
	if r.Format != "" && !r.Format.Valid() {
		return shiperr.Validationf("format", "unsupported label format %q", r.Format)
	}
	return nil
}

// WithDefaults fills the label format when the caller left it empty.
func (r LabelRequest) WithDefaults() LabelRequest {
	if r.Format == "" {
		r.Format = models.LabelFormatPDF
	}
	return r
}
