package carrier

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
)

// Issued is the outcome of asking a carrier for a label. Fallback is set when the carrier
// could not produce one and a synthetic label stands in; Cause holds the carrier failure.
type Issued struct {
	Result   LabelResult
	Fallback bool
	Cause    error
}

// Issue requests a label and applies the fallback policy. It fails only for invalid input
// or when the caller gave up; carrier outages are absorbed into a fallback label.
func Issue(ctx context.Context, c Client, req LabelRequest, now func() time.Time) (Issued, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return Issued{}, err
	}

	res, err := c.GenerateLabel(ctx, req)
	switch {
	case err == nil:
		return Issued{Result: res}, nil
	case shiperr.IsValidation(err):
		return Issued{}, err
	case ctx.Err() != nil:
		return Issued{}, shiperr.Unknown(errors.Wrapf(err, "caller context: %v", ctx.Err()), "label request abandoned")
	}

	slog.Warn("carrier label failed, issuing fallback label",
		"carrier", c.Code(), "shipment_id", req.ShipmentID, "error", err.Error())
	return Issued{
		Result:   c.FallbackLabel(req, now()),
		Fallback: true,
		Cause:    err,
	}, nil
}
