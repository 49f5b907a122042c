package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ShipBox/config"
	shippingapi "github.com/BearBump/ShipBox/internal/api/shipping_api"
	"github.com/BearBump/ShipBox/internal/bootstrap"
	"github.com/BearBump/ShipBox/internal/broker/kafka"
	"github.com/BearBump/ShipBox/internal/broker/mqtt"
	"github.com/BearBump/ShipBox/internal/cache/rediscache"
	"github.com/BearBump/ShipBox/internal/services/batch"
	"github.com/BearBump/ShipBox/internal/services/fulfillment"
	"github.com/BearBump/ShipBox/internal/services/notify"
	"github.com/BearBump/ShipBox/internal/services/rateshop"
	"github.com/BearBump/ShipBox/internal/services/trackings"
	"github.com/BearBump/ShipBox/internal/storage/labelarchive"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health"
)

type shipAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   shipAPIOpts
	deps   shipAPIDeps

	store      bootstrap.Store
	redis      *redis.Client
	consumer   *kafka.Consumer
	producer   *kafka.Producer
	dispatcher *notify.Dispatcher
}

func mustBootstrapShipAPI() *shipAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse error: %v", err))
	}

	grpcAddr := cfg.ShipBox.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = ":50051"
	}
	httpAddr := cfg.ShipBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.ShipBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "ship-api"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	st, err := bootstrap.OpenStore(cfg, 60*time.Second)
	if err != nil {
		panic(err)
	}
	if err := bootstrap.SyncCarriers(ctx, st, cfg.Carriers); err != nil {
		panic(err)
	}
	registry, err := bootstrap.NewRegistry(cfg)
	if err != nil {
		panic(err)
	}

	rc := rediscache.NewClient(cfg.RedisAddr())
	viewCache := rediscache.New(rc)
	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := viewCache.Ping(pingCtx); err != nil {
		slog.Warn("redis unavailable, shipment views and label locks degrade to the database", "error", err.Error())
	}
	pingCancel()

	trackSvc := trackings.New(st, registry, viewCache, cfg.ShipBox.CacheTTL())

	producer := kafka.NewProducer(cfg.KafkaBrokers())
	dispatcher := notify.New(cfg.ShipBox.NotifyQueueSize, cfg.ShipBox.NotifyWorkers)
	dispatcher.Start(ctx)
	go drainNotifyErrors(dispatcher)

	var archive notify.Archiver
	if cfg.S3.Bucket != "" {
		a, err := labelarchive.New(ctx, labelarchive.Config{
			Endpoint:     cfg.S3.Endpoint,
			Region:       cfg.S3.Region,
			Bucket:       cfg.S3.Bucket,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			panic(err)
		}
		archive = a
	}
	notifier := notify.NewLabelNotifier(dispatcher, producer, cfg.LabelEventTopic(), archive)

	source, err := rateshop.NewStaticSource(cfg.RateCards)
	if err != nil {
		panic(err)
	}
	shop := rateshop.New(source, rateshop.Options{
		Enabled:   cfg.ShipBox.RateShopEnabled,
		Objective: rateshop.Objective(cfg.ShipBox.RateShopObjective),
		MaxDays:   cfg.ShipBox.RateShopMaxDays,
	})

	fulfillSvc := fulfillment.New(st, registry).
		WithRateShop(shop).
		WithLocker(rediscache.NewLocker(rc), cfg.ShipBox.LabelLockTTL()).
		WithNotifier(notifier).
		WithCache(viewCache).
		WithBatch(batch.New(cfg.ShipBox.BatchSize, cfg.ShipBox.MaxBatchItems))

	topic := cfg.TrackingTopic()
	consumer := kafka.NewConsumer(cfg.KafkaBrokers(), topic, consumerGroup)

	deps := shipAPIDeps{
		routes:   shippingapi.New(fulfillSvc, trackSvc).Routes(),
		ingester: trackSvc,
		consumer: consumer,
		health:   health.NewServer(),
	}
	if cfg.MQTT.Broker != "" {
		deps.scanner = mqtt.New(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			Port:     cfg.MQTT.Port,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		})
	}

	return &shipAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: shipAPIOpts{
			grpcAddr:      grpcAddr,
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		deps:       deps,
		store:      st,
		redis:      rc,
		consumer:   consumer,
		producer:   producer,
		dispatcher: dispatcher,
	}
}

func drainNotifyErrors(d *notify.Dispatcher) {
	for te := range d.Errors() {
		slog.Error("notification failed", "task", te.Task, "shipment_id", te.ShipmentID, "error", te.Err.Error())
	}
}

func (a *shipAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	// dispatcher drains before the producer goes away
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func (a *shipAPIApp) Run() error {
	return runShipAPI(a.ctx, a.opts, a.deps)
}
