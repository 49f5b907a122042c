package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/config"
	"github.com/BearBump/ShipBox/internal/bootstrap"
	"github.com/BearBump/ShipBox/internal/broker/kafka"
	"github.com/BearBump/ShipBox/internal/cache/rediscache"
	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/services/poller"
)

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo poller.Repository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) poller.Producer
	newRateLimiter func(cfg *config.Config) poller.RateLimiter
	newRegistry    func(cfg *config.Config) (*carrier.Registry, error)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (poller.Repository, func(), error) {
			st, err := bootstrap.OpenStore(cfg, 60*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			return kafka.NewProducer(cfg.KafkaBrokers())
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			return rediscache.NewRateLimiter(rediscache.NewClient(cfg.RedisAddr()))
		},
		newRegistry: bootstrap.NewRegistry,
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func newPoller(cfg *config.Config, repo poller.Repository, registry *carrier.Registry, producer poller.Producer, rl poller.RateLimiter) *poller.Poller {
	sb := cfg.ShipBox

	pollInterval := time.Duration(sb.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	batchSize := sb.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := sb.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(sb.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	rlPerMin := int64(sb.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}

	planner := poller.NewPlanner(poller.PlannerConfigFromSeconds(
		sb.WorkerNextCheckInTransitMinSeconds,
		sb.WorkerNextCheckInTransitMaxSeconds,
		sb.WorkerNextCheckUnknownSeconds,
		sb.WorkerBackoffSeconds,
	), nil)

	return poller.New(repo, registry, producer, rl, cfg.TrackingTopic()).
		WithSettings(pollInterval, batchSize, concurrency, lease, rlPerMin).
		WithPlanner(planner).
		WithCarrierRateLimits(bootstrap.CarrierRateLimits(cfg.Carriers))
}

// RunShipWorker polls carriers until ctx is done. The ops HTTP server runs alongside
// when swaggerPath is set.
func RunShipWorker(ctx context.Context, cfg *config.Config, f workerFactories, swaggerPath string) error {
	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	registry, err := f.newRegistry(cfg)
	if err != nil {
		return err
	}

	p := newPoller(cfg, repo, registry, f.newProducer(cfg), f.newRateLimiter(cfg))

	if swaggerPath != "" {
		opts := workerHTTPOpts{
			httpAddr:    cfg.ShipBox.WorkerHTTPAddr,
			swaggerPath: swaggerPath,
			poller:      p,
			cfg:         cfg,
		}
		if pg, ok := repo.(pinger); ok {
			opts.ready = pg.Ping
		}
		go func() {
			if err := runWorkerHTTPServer(ctx, opts); err != nil && ctx.Err() == nil {
				slog.Error("worker http server stopped", "error", err.Error())
			}
		}()
	}

	slog.Info("ship-worker started", "topic", cfg.TrackingTopic(), "carriers", registry.Codes())
	return p.Run(ctx)
}
