package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/ShipBox/config"
	"github.com/BearBump/ShipBox/internal/bootstrap"
	"github.com/BearBump/ShipBox/internal/services/poller"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	poller *poller.Poller
	cfg    *config.Config
	// ready reports whether the store answers; nil means always ready.
	ready func(ctx context.Context) error
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("worker swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: workerRoutes(opts), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}

func workerRoutes(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.ready(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, http.StatusOK, map[string]string{"error": "poller not wired"})
			return
		}
		writeJSON(w, http.StatusOK, opts.poller.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeJSON(w, http.StatusOK, map[string]string{"error": "config not wired"})
			return
		}
		// operational settings only, no credentials
		sb := opts.cfg.ShipBox
		writeJSON(w, http.StatusOK, map[string]any{
			"pollIntervalSeconds":          sb.WorkerPollIntervalSeconds,
			"batchSize":                    sb.WorkerBatchSize,
			"concurrency":                  sb.WorkerConcurrency,
			"leaseSeconds":                 sb.WorkerLeaseSeconds,
			"rateLimitPerMinute":           sb.WorkerRateLimitPerMinute,
			"carrierRateLimitsPerMinute":   bootstrap.CarrierRateLimits(opts.cfg.Carriers),
			"nextCheckInTransitMinSeconds": sb.WorkerNextCheckInTransitMinSeconds,
			"nextCheckInTransitMaxSeconds": sb.WorkerNextCheckInTransitMaxSeconds,
			"nextCheckUnknownSeconds":      sb.WorkerNextCheckUnknownSeconds,
			"backoffSeconds":               sb.WorkerBackoffSeconds,
			"trackingTopic":                opts.cfg.TrackingTopic(),
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, http.StatusOK, map[string]string{"error": "poller not wired"})
			return
		}
		opts.poller.Trigger()
		writeJSON(w, http.StatusOK, map[string]bool{"triggered": true})
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})

	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
