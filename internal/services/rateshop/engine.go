// Package rateshop picks the carrier for a shipment from configured rate cards.
package rateshop

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
)

type Objective string

const (
	ObjectiveCheapest          Objective = "cheapest"
	ObjectiveCheapestWithinSLA Objective = "cheapest_within_sla"
	ObjectiveFastest           Objective = "fastest"
)

func (o Objective) Valid() bool {
	return o == ObjectiveCheapest || o == ObjectiveCheapestWithinSLA || o == ObjectiveFastest
}

type Criteria struct {
	ShipmentID            uint64
	CurrentCarrier        string
	OriginPostalCode      string
	DestinationPostalCode string
	WeightGrams           int64
	LengthCm              float64
	WidthCm               float64
	HeightCm              float64
	WarehouseID           *uint64
}

type Options struct {
	Enabled   bool
	Objective Objective

	// MaxDays is the SLA ceiling for cheapest_within_sla.
	MaxDays int
}

type Engine struct {
	source RateSource
	opts   Options
}

func New(source RateSource, opts Options) *Engine {
	if !opts.Objective.Valid() {
		opts.Objective = ObjectiveCheapest
	}
	return &Engine{source: source, opts: opts}
}

// Shop returns a decision only when a carrier other than the current one wins.
// Failures of the rate source are logged and treated as no decision.
func (e *Engine) Shop(ctx context.Context, c Criteria) (decision *models.RateShopDecision, ok bool) {
	if e == nil || !e.opts.Enabled || e.source == nil {
		return nil, false
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("rate shop panicked, keeping assigned carrier",
				"shipment_id", c.ShipmentID, "panic", fmt.Sprint(r))
			decision, ok = nil, false
		}
	}()

	d, err := e.decide(ctx, c)
	if err != nil {
		slog.Warn("rate shop failed, keeping assigned carrier",
			"shipment_id", c.ShipmentID, "error", err.Error())
		return nil, false
	}
	if d == nil {
		return nil, false
	}
	return d, true
}

func (e *Engine) decide(ctx context.Context, c Criteria) (*models.RateShopDecision, error) {
	quotes, err := e.source.Quotes(ctx, c)
	if err != nil {
		return nil, errors.Wrap(err, "quote carriers")
	}
	best, found := Pick(quotes, e.opts.Objective, e.opts.MaxDays)
	if !found {
		return nil, nil
	}
	if strings.EqualFold(best.CarrierCode, c.CurrentCarrier) {
		return nil, nil
	}
	return &models.RateShopDecision{
		CarrierCode:   best.CarrierCode,
		EstimatedCost: best.Cost,
		EstimatedDays: best.Days,
	}, nil
}

// Pick selects the winning quote for objective. Ties fall back to the other criterion
// and then to the carrier code so the result does not depend on quote order.
func Pick(quotes []Quote, objective Objective, maxDays int) (Quote, bool) {
	candidates := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if objective == ObjectiveCheapestWithinSLA && maxDays > 0 && q.Days > maxDays {
			continue
		}
		candidates = append(candidates, q)
	}
	if len(candidates) == 0 {
		return Quote{}, false
	}

	byCost := func(a, b Quote) int { return a.Cost.Cmp(b.Cost) }
	byDays := func(a, b Quote) int { return a.Days - b.Days }
	first, second := byCost, byDays
	if objective == ObjectiveFastest {
		first, second = byDays, byCost
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if c := first(a, b); c != 0 {
			return c < 0
		}
		if c := second(a, b); c != 0 {
			return c < 0
		}
		return a.CarrierCode < b.CarrierCode
	})
	return candidates[0], true
}
