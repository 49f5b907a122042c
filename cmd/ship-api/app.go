package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/kafka"
	"github.com/BearBump/ShipBox/internal/broker/mqtt"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const consumeRestart = time.Second

type shipAPIOpts struct {
	grpcAddr    string
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(grpcAddr, httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler kafka.Handler) error
}

type scannerFeed interface {
	Run(ctx context.Context, h mqtt.Handler) error
}

type trackingIngester interface {
	HandleTrackingMessage(ctx context.Context, payload []byte) error
}

type shipAPIDeps struct {
	routes   http.Handler
	ingester trackingIngester
	consumer kafkaConsumer
	// scanner is nil when the MQTT feed is not configured.
	scanner scannerFeed
	health  *health.Server
}

func runShipAPI(ctx context.Context, opts shipAPIOpts, deps shipAPIDeps) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}
	if deps.health == nil {
		deps.health = health.NewServer()
	}

	grpcLis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}

	if opts.onListen != nil {
		opts.onListen(grpcLis.Addr().String(), httpLis.Addr().String())
	}

	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- runGRPCServer(ctx, grpcLis, deps.health)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, httpLis, deps.routes, opts.swaggerPath)
	}()

	if deps.consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			consumeTracking(ctx, deps.consumer, deps.ingester)
		}()
	}

	if deps.scanner != nil {
		go func() {
			err := deps.scanner.Run(ctx, func(ctx context.Context, _ string, payload []byte) error {
				return deps.ingester.HandleTrackingMessage(ctx, payload)
			})
			if err != nil {
				slog.Error("scanner feed stopped", "error", err.Error())
			}
		}()
	}

	deps.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	select {
	case <-ctx.Done():
	case err = <-grpcErr:
	case err = <-httpErr:
	}
	deps.health.Shutdown()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// consumeTracking keeps the tracking stream attached until ctx is done. Failed messages
// are retried inside Consume; only broker errors get here.
func consumeTracking(ctx context.Context, c kafkaConsumer, in trackingIngester) {
	handler := func(ctx context.Context, _, value []byte) error {
		return in.HandleTrackingMessage(ctx, value)
	}

	for {
		err := c.Consume(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("kafka consume failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(consumeRestart):
		}
	}
}

func runGRPCServer(ctx context.Context, lis net.Listener, hs *health.Server) error {
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		<-ctx.Done()
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			s.Stop()
		}
		_ = lis.Close()
	}()

	slog.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.Serve(lis)
}

func runHTTPServer(ctx context.Context, lis net.Listener, routes http.Handler, swaggerPath string) error {
	r := chi.NewRouter()
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, swaggerPath)
	})

	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))

	if routes != nil {
		r.Mount("/", routes)
	}

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
