package poller

import (
	"math/rand"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	DeliveredDelay time.Duration // default: 365 days

	InTransitMinDelay time.Duration // default: 30 minutes
	InTransitMaxDelay time.Duration // default: 120 minutes

	UnknownDelay time.Duration // default: 90 minutes

	// Backoff[i] is the delay after i+1 consecutive failed polls; the last tier repeats.
	Backoff []time.Duration // default: 5, 15, 30, 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		DeliveredDelay:    365 * 24 * time.Hour,
		InTransitMinDelay: 30 * time.Minute,
		InTransitMaxDelay: 120 * time.Minute,
		UnknownDelay:      90 * time.Minute,
		Backoff:           []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute, 60 * time.Minute},
	}
}

// PlannerConfigFromSeconds builds a planner config from the worker settings; zero values keep defaults.
func PlannerConfigFromSeconds(inTransitMin, inTransitMax, unknown int, backoff []int) PlannerConfig {
	cfg := PlannerConfig{
		InTransitMinDelay: time.Duration(inTransitMin) * time.Second,
		InTransitMaxDelay: time.Duration(inTransitMax) * time.Second,
		UnknownDelay:      time.Duration(unknown) * time.Second,
	}
	for _, s := range backoff {
		if s > 0 {
			cfg.Backoff = append(cfg.Backoff, time.Duration(s)*time.Second)
		}
	}
	return cfg
}

// Planner decides when a shipment is polled again.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.DeliveredDelay <= 0 {
		cfg.DeliveredDelay = def.DeliveredDelay
	}
	if cfg.InTransitMinDelay <= 0 {
		cfg.InTransitMinDelay = def.InTransitMinDelay
	}
	if cfg.InTransitMaxDelay <= 0 {
		cfg.InTransitMaxDelay = def.InTransitMaxDelay
	}
	if cfg.InTransitMaxDelay < cfg.InTransitMinDelay {
		cfg.InTransitMaxDelay = cfg.InTransitMinDelay
	}
	if cfg.UnknownDelay <= 0 {
		cfg.UnknownDelay = def.UnknownDelay
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = def.Backoff
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func (p *Planner) Config() PlannerConfig { return p.cfg }

// NextCheckDelay spreads in-flight shipments over the configured window so polls do not bunch up.
func (p *Planner) NextCheckDelay(status models.ShipmentStatus) time.Duration {
	switch status {
	case models.ShipmentStatusDelivered, models.ShipmentStatusCancelled:
		return p.cfg.DeliveredDelay
	case models.ShipmentStatusShipped, models.ShipmentStatusInTransit:
		lo, hi := p.cfg.InTransitMinDelay, p.cfg.InTransitMaxDelay
		if hi == lo {
			return lo
		}
		secLo := int(lo.Seconds())
		secHi := max(int(hi.Seconds()), secLo)
		return time.Duration(secLo+p.r.Intn(secHi-secLo+1)) * time.Second
	default:
		return p.cfg.UnknownDelay
	}
}

// BackoffDelay is the wait after the failCount-th consecutive failure.
func (p *Planner) BackoffDelay(failCount int32) time.Duration {
	i := int(failCount) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.cfg.Backoff) {
		i = len(p.cfg.Backoff) - 1
	}
	return p.cfg.Backoff[i]
}
