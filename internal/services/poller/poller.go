// Package poller asks carriers for tracking updates of in-flight shipments and feeds them to the
// ingestion topic.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
)

// Source tags messages published by the poller.
const Source = "poller"

type Repository interface {
	ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error)
	ScheduleNextCheck(ctx context.Context, shipmentID uint64, next time.Time, failed bool) error
	GetCarrier(ctx context.Context, id uint64) (*models.CarrierDescriptor, error)
	GetActiveLabel(ctx context.Context, shipmentID uint64) (*models.Label, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Poller struct {
	repo     Repository
	registry *carrier.Registry
	producer Producer
	rl       RateLimiter

	topic string

	planner *Planner
	now     func() time.Time

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64
	carrierLimits      map[string]int64
	publishAttempts    int
	publishBackoff     time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	totalThrottled      atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, registry *carrier.Registry, producer Producer, rl RateLimiter, topic string) *Poller {
	return &Poller{
		repo:               repo,
		registry:           registry,
		producer:           producer,
		rl:                 rl,
		topic:              topic,
		planner:            NewPlanner(DefaultPlannerConfig(), nil),
		now:                func() time.Time { return time.Now().UTC() },
		pollInterval:       2 * time.Second,
		batchSize:          100,
		concurrency:        10,
		lease:              120 * time.Second,
		rateLimitPerMinute: 120,
		carrierLimits:      map[string]int64{},
		publishAttempts:    5,
		publishBackoff:     150 * time.Millisecond,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if lease > 0 {
		p.lease = lease
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

func (p *Poller) WithPlanner(pl *Planner) *Poller {
	if pl != nil {
		p.planner = pl
	}
	return p
}

// WithCarrierRateLimits overrides the per-minute budget of individual carriers.
func (p *Poller) WithCarrierRateLimits(perMinute map[string]int) *Poller {
	for code, n := range perMinute {
		if n > 0 {
			p.carrierLimits[strings.ToUpper(strings.TrimSpace(code))] = int64(n)
		}
	}
	return p
}

func (p *Poller) WithClock(now func() time.Time) *Poller {
	if now != nil {
		p.now = now
	}
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalErrors    int64      `json:"totalErrors"`
	TotalThrottled int64      `json:"totalThrottled"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalPublished: p.totalPublished.Load(),
		TotalErrors:    p.totalErrors.Load(),
		TotalThrottled: p.totalThrottled.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	now := p.now()
	p.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())

	items, err := p.repo.ClaimDueShipments(ctx, now, p.batchSize, p.lease)
	if err != nil {
		slog.Error("claim due shipments", "error", err.Error())
		p.recordError(err)
		return
	}
	p.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, sh := range items {
		sem <- struct{}{}
		wg.Add(1)
		p.inFlight.Add(1)
		go func() {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := p.processOne(ctx, sh); err != nil {
				p.totalErrors.Add(1)
				p.recordError(err)
				slog.Error("poll shipment", "shipment_id", sh.ID, "error", err.Error())
			}
			p.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (p *Poller) processOne(ctx context.Context, sh *models.Shipment) error {
	now := p.now()

	desc, err := p.repo.GetCarrier(ctx, sh.CarrierID)
	if err != nil {
		return p.failed(ctx, sh, now, errors.Wrap(err, "load carrier"))
	}
	label, err := p.repo.GetActiveLabel(ctx, sh.ID)
	if err != nil {
		return p.failed(ctx, sh, now, errors.Wrap(err, "load label"))
	}
	if label == nil || label.Fallback {
		// nothing the carrier knows about yet
		return p.schedule(ctx, sh.ID, now.Add(p.planner.NextCheckDelay(models.ShipmentStatusUnknown)), false)
	}

	code := strings.ToUpper(desc.Code)
	allowed, err := p.allow(ctx, code, now)
	if err != nil {
		slog.Warn("rate limiter unavailable, polling anyway", "carrier", code, "error", err.Error())
	} else if !allowed {
		p.totalThrottled.Add(1)
		next := now.Truncate(time.Minute).Add(time.Minute)
		return p.schedule(ctx, sh.ID, next, false)
	}

	client, _ := p.registry.Resolve(code)
	res := client.TrackShipment(ctx, label.LabelNumber)
	if res.Status == models.ShipmentStatusUnknown && len(res.Events) == 0 {
		return p.failed(ctx, sh, now, errors.Errorf("carrier %s returned no tracking for %s", code, label.LabelNumber))
	}

	for _, msg := range reports(sh, label, res, now) {
		if err := p.publish(ctx, msg); err != nil {
			return p.failed(ctx, sh, now, err)
		}
	}
	return p.schedule(ctx, sh.ID, now.Add(p.planner.NextCheckDelay(res.Status)), false)
}

func (p *Poller) allow(ctx context.Context, code string, now time.Time) (bool, error) {
	if p.rl == nil {
		return true, nil
	}
	limit := p.rateLimitPerMinute
	if n, ok := p.carrierLimits[code]; ok {
		limit = n
	}
	if limit <= 0 {
		return true, nil
	}
	key := fmt.Sprintf("rl:carrier:%s:%s", code, now.Format("200601021504"))
	allowed, n, err := p.rl.Allow(ctx, key, limit, 70*time.Second)
	if err != nil {
		return false, err
	}
	if !allowed {
		slog.Warn("carrier rate limit reached, deferring poll", "carrier", code, "count", n, "limit", limit)
	}
	return allowed, nil
}

// reports turns a carrier answer into ingestion messages, one per event. A bare status without
// events becomes a single message stamped with the carrier's status time.
func reports(sh *models.Shipment, label *models.Label, res carrier.TrackingResult, now time.Time) []messages.TrackingReported {
	base := models.TrackingInput{ShipmentID: sh.ID, TrackingNumber: label.LabelNumber}
	if len(res.Events) == 0 {
		in := base
		in.Status = res.StatusRaw
		if in.Status == "" {
			in.Status = string(res.Status)
		}
		in.OccurredAt = now
		if res.StatusAt != nil {
			in.OccurredAt = *res.StatusAt
		}
		return []messages.TrackingReported{messages.NewTrackingReported(Source, in)}
	}

	out := make([]messages.TrackingReported, 0, len(res.Events))
	for _, e := range res.Events {
		in := base
		in.Status = e.StatusRaw
		in.Description = optional(e.Description)
		in.EventCode = optional(e.EventCode)
		in.Location = optional(e.Location)
		in.RawPayload = optional(e.PayloadJSON)
		in.OccurredAt = e.OccurredAt
		if in.OccurredAt.IsZero() {
			in.OccurredAt = now
		}
		out = append(out, messages.NewTrackingReported(Source, in))
	}
	return out
}

func (p *Poller) publish(ctx context.Context, msg messages.TrackingReported) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal tracking message")
	}

	// the broker may not be ready right after a cold start
	var pubErr error
	for i := range p.publishAttempts {
		if pubErr = p.producer.Publish(ctx, p.topic, msg.Key(), b); pubErr == nil {
			p.totalPublished.Add(1)
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(i+1) * p.publishBackoff)
	}
	return errors.Wrap(pubErr, "publish tracking message")
}

func (p *Poller) failed(ctx context.Context, sh *models.Shipment, now time.Time, cause error) error {
	next := now.Add(p.planner.BackoffDelay(sh.CheckFailCount + 1))
	if err := p.schedule(ctx, sh.ID, next, true); err != nil {
		slog.Error("reschedule failed poll", "shipment_id", sh.ID, "error", err.Error())
	}
	return cause
}

func (p *Poller) schedule(ctx context.Context, shipmentID uint64, next time.Time, failed bool) error {
	return errors.Wrapf(p.repo.ScheduleNextCheck(ctx, shipmentID, next, failed), "schedule shipment %d", shipmentID)
}

func (p *Poller) recordError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
