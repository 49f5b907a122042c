package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/BearBump/ShipBox/config"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/blaze"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/northpost"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/sandbox"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/shipkart"
	"github.com/stretchr/testify/require"
)

func testCarriers() []config.CarrierConfig {
	return []config.CarrierConfig{
		{Code: "blaze", Name: "Blaze Express", Driver: "blaze", BaseURL: "http://blaze.local", APIKey: "k", RateLimitPerMinute: 60},
		{Driver: "northpost", BaseURL: "http://np.local", Username: "u", Password: "p"},
		{Code: "SHIPKART", Driver: "shipkart", APIKey: "app", Secret: "s", RateLimitPerMinute: 30},
	}
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(&config.Config{Carriers: testCarriers()})
	require.NoError(t, err)

	c, ok := reg.Resolve("BLAZE")
	require.True(t, ok)
	require.IsType(t, &blaze.Client{}, c)

	c, ok = reg.Resolve("northpost")
	require.True(t, ok)
	require.IsType(t, &northpost.Client{}, c)

	c, ok = reg.Resolve("SHIPKART")
	require.True(t, ok)
	require.IsType(t, &shipkart.Client{}, c)

	c, ok = reg.Resolve("SANDBOX")
	require.True(t, ok)
	require.IsType(t, &sandbox.Client{}, c)

	c, ok = reg.Resolve("NOPE")
	require.False(t, ok)
	require.Equal(t, sandbox.Code, c.Code())
}

func TestNewRegistry_BadCarrier(t *testing.T) {
	_, err := NewRegistry(&config.Config{Carriers: []config.CarrierConfig{{Code: "X", Driver: "pigeon"}}})
	require.Error(t, err)

	_, err = NewRegistry(&config.Config{Carriers: []config.CarrierConfig{{Code: "FAST", Driver: "blaze"}}})
	require.Error(t, err)
}

func TestCarrierRateLimits(t *testing.T) {
	require.Equal(t, map[string]int{"BLAZE": 60, "SHIPKART": 30}, CarrierRateLimits(testCarriers()))
}

func TestOpenStore_SQLiteAndSync(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "shipbox.db")}}
	st, err := OpenStore(cfg, 0)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Ping(ctx))
	require.NoError(t, SyncCarriers(ctx, st, testCarriers()))
	// idempotent
	require.NoError(t, SyncCarriers(ctx, st, testCarriers()))

	for _, code := range []string{"BLAZE", "NORTHPOST", "SHIPKART", "SANDBOX"} {
		c, err := st.GetCarrierByCode(ctx, code)
		require.NoError(t, err, code)
		require.Equal(t, code, c.Code)
	}
	c, err := st.GetCarrierByCode(ctx, "BLAZE")
	require.NoError(t, err)
	require.Equal(t, "Blaze Express", c.Name)
	require.Equal(t, "blaze", c.ConfigRef)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := OpenStore(&config.Config{Database: config.DatabaseConfig{Driver: "oracle"}}, 0)
	require.Error(t, err)
}
