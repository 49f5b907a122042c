package fulfillment

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/batch"
	"github.com/BearBump/ShipBox/internal/services/shipments"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
)

// CancelShipment cancels the shipment with the carrier holding its live label and then locally.
// It reports false when the carrier refused; a shipment without a real carrier label is
// cancelled locally only.
func (s *Service) CancelShipment(ctx context.Context, trackingNumber, reason string) (bool, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return false, shiperr.Validation("trackingNumber", "is required")
	}
	sh, err := s.repo.GetShipmentByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return false, err
	}
	switch sh.Status {
	case models.ShipmentStatusCancelled:
		return true, nil
	case models.ShipmentStatusDelivered:
		return false, shiperr.Validationf("status", "shipment %d is already delivered", sh.ID)
	}

	label, err := s.repo.GetActiveLabel(ctx, sh.ID)
	if err != nil {
		return false, err
	}
	if label != nil && !label.Fallback {
		client, _ := s.registry.Resolve(label.CarrierCode)
		if !client.CancelShipment(ctx, label.LabelNumber, reason) {
			slog.Warn("carrier refused cancellation", "shipment_id", sh.ID, "carrier", label.CarrierCode)
			return false, nil
		}
	}

	updated, changed, err := shipments.Advance(ctx, s.repo, sh, models.ShipmentStatusCancelled, s.now())
	if err != nil {
		return false, err
	}
	if !changed {
		// lost to a concurrent terminal transition
		return updated != nil && updated.Status == models.ShipmentStatusCancelled, nil
	}
	s.invalidate(ctx, sh.ID)
	slog.Info("shipment cancelled", "shipment_id", sh.ID, "reason", reason)
	return true, nil
}

// VoidLabel voids a label with its carrier and marks it voided, which frees the shipment
// for a new label. Fallback labels were never issued by a carrier and are voided locally.
func (s *Service) VoidLabel(ctx context.Context, labelNumber string) (bool, error) {
	labelNumber = strings.TrimSpace(labelNumber)
	if labelNumber == "" {
		return false, shiperr.Validation("labelNumber", "is required")
	}
	l, err := s.repo.GetLabelByNumber(ctx, labelNumber)
	if err != nil {
		return false, err
	}
	if l.Status == models.LabelStatusVoided {
		return true, nil
	}
	if !l.Fallback {
		client, _ := s.registry.Resolve(l.CarrierCode)
		if !client.VoidLabel(ctx, l.LabelNumber) {
			slog.Warn("carrier refused to void label", "shipment_id", l.ShipmentID, "label_number", l.LabelNumber)
			return false, nil
		}
	}
	err = s.repo.MarkLabelVoided(ctx, l.ID, s.now())
	if err != nil && !shiperr.IsConflict(err) {
		return false, errors.Wrapf(err, "void label %s", l.LabelNumber)
	}
	return true, nil
}

// RunBulkLabelGeneration creates labels chunk by chunk; one failing shipment never stops the rest.
func (s *Service) RunBulkLabelGeneration(ctx context.Context, shipmentIDs []uint64, format models.LabelFormat) (*batch.Result[uint64], error) {
	if format != "" && !format.Valid() {
		return nil, shiperr.Validationf("format", "unsupported label format %q", format)
	}
	return batch.Run(ctx, s.batch, shipmentIDs, func(ctx context.Context, id uint64) error {
		_, err := s.CreateLabel(ctx, id, format)
		return err
	})
}

func (s *Service) RunBulkCancel(ctx context.Context, trackingNumbers []string, reason string) (*batch.Result[string], error) {
	return batch.Run(ctx, s.batch, trackingNumbers, func(ctx context.Context, tn string) error {
		ok, err := s.CancelShipment(ctx, tn, reason)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("carrier refused cancellation")
		}
		return nil
	})
}
