package rateshop

import (
	"context"
	"sort"
	"strings"

	"github.com/BearBump/ShipBox/config"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const DefaultVolumetricDivisor = 5000

type Quote struct {
	CarrierCode string
	Zone        Zone
	Cost        decimal.Decimal
	Days        int
}

// RateSource prices a parcel on every carrier it knows about.
type RateSource interface {
	Quotes(ctx context.Context, c Criteria) ([]Quote, error)
}

type zoneRate struct {
	baseCost     decimal.Decimal
	baseWeightKg decimal.Decimal
	stepKg       decimal.Decimal
	stepCost     decimal.Decimal
	slaDays      int
}

type card struct {
	carrier string
	divisor decimal.Decimal
	zones   map[Zone]zoneRate
}

// StaticSource prices from rate cards loaded once from configuration.
type StaticSource struct {
	cards []card
}

func NewStaticSource(cards []config.RateCard) (*StaticSource, error) {
	out := make([]card, 0, len(cards))
	for _, rc := range cards {
		code := strings.ToUpper(strings.TrimSpace(rc.Carrier))
		if code == "" {
			return nil, errors.New("rate card without carrier")
		}
		c := card{
			carrier: code,
			divisor: decimal.NewFromInt(DefaultVolumetricDivisor),
			zones:   make(map[Zone]zoneRate, len(rc.Zones)),
		}
		if rc.VolumetricDivisor > 0 {
			c.divisor = decimal.NewFromFloat(rc.VolumetricDivisor)
		}
		for _, z := range rc.Zones {
			zr, err := parseZone(z)
			if err != nil {
				return nil, errors.Wrapf(err, "rate card %s zone %s", code, z.Zone)
			}
			c.zones[Zone(strings.ToUpper(z.Zone))] = zr
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].carrier < out[j].carrier })
	return &StaticSource{cards: out}, nil
}

func parseZone(z config.ZoneRate) (zoneRate, error) {
	var zr zoneRate
	var err error
	if zr.baseCost, err = decimal.NewFromString(z.BaseCost); err != nil {
		return zr, errors.Wrap(err, "base_cost")
	}
	if zr.baseWeightKg, err = decimalOrZero(z.BaseWeightKg); err != nil {
		return zr, errors.Wrap(err, "base_weight_kg")
	}
	if zr.stepKg, err = decimalOrZero(z.StepKg); err != nil {
		return zr, errors.Wrap(err, "step_kg")
	}
	if zr.stepCost, err = decimalOrZero(z.StepCost); err != nil {
		return zr, errors.Wrap(err, "step_cost")
	}
	zr.slaDays = z.SLADays
	return zr, nil
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func (s *StaticSource) Quotes(_ context.Context, c Criteria) ([]Quote, error) {
	if c.OriginPostalCode == "" || c.DestinationPostalCode == "" {
		return nil, errors.New("origin and destination postal codes are required")
	}
	zone := ZoneFor(c.OriginPostalCode, c.DestinationPostalCode)

	quotes := make([]Quote, 0, len(s.cards))
	for _, cd := range s.cards {
		zr, ok := cd.zones[zone]
		if !ok {
			continue
		}
		weight := ChargeableWeightKg(c.WeightGrams, c.LengthCm, c.WidthCm, c.HeightCm, cd.divisor)
		quotes = append(quotes, Quote{
			CarrierCode: cd.carrier,
			Zone:        zone,
			Cost:        zr.price(weight),
			Days:        zr.slaDays,
		})
	}
	return quotes, nil
}

// ChargeableWeightKg is the larger of the actual and the volumetric weight.
func ChargeableWeightKg(weightGrams int64, l, w, h float64, divisor decimal.Decimal) decimal.Decimal {
	actual := decimal.NewFromInt(weightGrams).Div(decimal.NewFromInt(1000))
	if l <= 0 || w <= 0 || h <= 0 || !divisor.IsPositive() {
		return actual
	}
	volumetric := decimal.NewFromFloat(l * w * h).Div(divisor)
	return decimal.Max(actual, volumetric)
}

func (zr zoneRate) price(weightKg decimal.Decimal) decimal.Decimal {
	cost := zr.baseCost
	if weightKg.GreaterThan(zr.baseWeightKg) && zr.stepKg.IsPositive() {
		steps := weightKg.Sub(zr.baseWeightKg).Div(zr.stepKg).Ceil()
		cost = cost.Add(steps.Mul(zr.stepCost))
	}
	return cost.Round(2)
}
