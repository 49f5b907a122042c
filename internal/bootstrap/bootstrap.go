// Package bootstrap builds the pieces both binaries share: the store and the carrier registry.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/config"
	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/blaze"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/northpost"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/sandbox"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/shipkart"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/fulfillment"
	"github.com/BearBump/ShipBox/internal/services/poller"
	"github.com/BearBump/ShipBox/internal/services/trackings"
	"github.com/BearBump/ShipBox/internal/storage/pgshipping"
	"github.com/BearBump/ShipBox/internal/storage/sqliteshipping"
	"github.com/pkg/errors"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is everything the services need from persistence. Both pgshipping and
// sqliteshipping satisfy it.
type Store interface {
	fulfillment.Repository
	trackings.Repository
	poller.Repository

	UpsertCarrier(ctx context.Context, c models.CarrierDescriptor) (*models.CarrierDescriptor, error)
	Ping(ctx context.Context) error
	Close()
}

// OpenStore opens the configured database. Postgres is retried for up to wait,
// since it usually starts alongside the service.
func OpenStore(cfg *config.Config, wait time.Duration) (Store, error) {
	switch strings.ToLower(cfg.Database.Driver) {
	case "", DriverPostgres:
		return openPostgresWithRetry(cfg.PostgresConnString(), wait)
	case DriverSQLite:
		path := cfg.Database.SQLitePath
		if path == "" {
			path = "shipbox.db"
		}
		return sqliteshipping.Open(path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func openPostgresWithRetry(connString string, wait time.Duration) (*pgshipping.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for {
		st, err := pgshipping.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		if !time.Now().Before(deadline) {
			break
		}
		time.Sleep(time.Second)
	}
	return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
}

type carrierUpserter interface {
	UpsertCarrier(ctx context.Context, c models.CarrierDescriptor) (*models.CarrierDescriptor, error)
}

// SyncCarriers makes sure every configured carrier has a row. The sandbox always gets one.
func SyncCarriers(ctx context.Context, st carrierUpserter, carriers []config.CarrierConfig) error {
	seen := map[string]bool{}
	for _, c := range carriers {
		code, err := carrierCode(c)
		if err != nil {
			return err
		}
		name := c.Name
		if name == "" {
			name = code
		}
		if _, err := st.UpsertCarrier(ctx, models.CarrierDescriptor{Code: code, Name: name, ConfigRef: strings.ToLower(c.Driver)}); err != nil {
			return errors.Wrapf(err, "sync carrier %s", code)
		}
		seen[code] = true
	}
	if !seen[sandbox.Code] {
		if _, err := st.UpsertCarrier(ctx, models.CarrierDescriptor{Code: sandbox.Code, Name: "Sandbox", ConfigRef: "sandbox"}); err != nil {
			return errors.Wrap(err, "sync sandbox carrier")
		}
	}
	return nil
}

// NewRegistry builds one client per configured carrier. The sandbox is registered and
// also answers for codes nobody registered.
func NewRegistry(cfg *config.Config) (*carrier.Registry, error) {
	exec := func() *carrier.Executor {
		return carrier.NewExecutor(cfg.ShipBox.RetryMaxAttempts, cfg.ShipBox.RetryBaseDelay(), cfg.ShipBox.CarrierCallTimeout())
	}

	sb := sandbox.New()
	reg := carrier.NewRegistry(sb)
	reg.Register(sb)

	for _, c := range cfg.Carriers {
		var client carrier.Client
		switch strings.ToLower(c.Driver) {
		case "sandbox":
			continue
		case "blaze":
			client = blaze.New(c.BaseURL, c.APIKey, exec())
		case "northpost":
			client = northpost.New(c.BaseURL, c.Username, c.Password, exec())
		case "shipkart":
			client = shipkart.New(c.BaseURL, c.APIKey, c.Secret, exec())
		default:
			return nil, fmt.Errorf("carrier %s: unknown driver %q", c.Code, c.Driver)
		}
		if _, err := carrierCode(c); err != nil {
			return nil, err
		}
		reg.Register(client)
		slog.Info("carrier registered", "code", client.Code(), "base_url", c.BaseURL)
	}
	return reg, nil
}

// CarrierRateLimits returns the per-minute polling budget of every carrier that sets one.
func CarrierRateLimits(carriers []config.CarrierConfig) map[string]int {
	out := map[string]int{}
	for _, c := range carriers {
		if c.RateLimitPerMinute <= 0 {
			continue
		}
		code, err := carrierCode(c)
		if err != nil {
			continue
		}
		out[code] = c.RateLimitPerMinute
	}
	return out
}

// carrierCode resolves the code a configured carrier is known by. Drivers own their
// code, so a configured code must agree with it.
func carrierCode(c config.CarrierConfig) (string, error) {
	var driverCode string
	switch strings.ToLower(c.Driver) {
	case "sandbox":
		driverCode = sandbox.Code
	case "blaze":
		driverCode = blaze.Code
	case "northpost":
		driverCode = northpost.Code
	case "shipkart":
		driverCode = shipkart.Code
	default:
		return "", fmt.Errorf("carrier %s: unknown driver %q", c.Code, c.Driver)
	}
	code := strings.ToUpper(strings.TrimSpace(c.Code))
	if code == "" {
		return driverCode, nil
	}
	if code != driverCode {
		return "", fmt.Errorf("carrier code %s does not match driver %s (%s)", code, c.Driver, driverCode)
	}
	return code, nil
}
