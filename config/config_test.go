package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  driver: "postgres"
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
redis:
  host: "localhost"
  port: 6379
mqtt:
  broker: "localhost"
  port: 1883
  topic: "scanners/+/events"
  qos: 1
s3:
  bucket: "labels"
  use_path_style: true
shipbox:
  http_addr: ":8080"
  batch_size: 20
  retry_base_delay_ms: 250
  rate_shop_enabled: true
  rate_shop_objective: "cheapest_within_sla"
  rate_shop_max_days: 3
  worker_backoff_seconds: [60, 120]
carriers:
  - code: "BLAZE"
    driver: "blaze"
    base_url: "http://blaze:9101"
    api_key: "k"
rate_cards:
  - carrier: "BLAZE"
    zones:
      - zone: "LOCAL"
        base_cost: "40.00"
        base_weight_kg: "0.5"
        step_kg: "0.5"
        step_cost: "20"
        sla_days: 1
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.PostgresConnString())
	require.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers())
	require.Equal(t, "shipment.tracking", cfg.TrackingTopic())
	require.Equal(t, "label.generated", cfg.LabelEventTopic())
	require.Equal(t, "localhost:6379", cfg.RedisAddr())
	require.Equal(t, byte(1), cfg.MQTT.QoS)
	require.True(t, cfg.S3.UsePathStyle)
	require.Equal(t, ":8080", cfg.ShipBox.HTTPAddr)
	require.Equal(t, 20, cfg.ShipBox.BatchSize)
	require.Equal(t, 250*time.Millisecond, cfg.ShipBox.RetryBaseDelay())
	require.Equal(t, 15*time.Second, cfg.ShipBox.CarrierCallTimeout())
	require.Equal(t, 10*time.Minute, cfg.ShipBox.CacheTTL())
	require.Equal(t, []int{60, 120}, cfg.ShipBox.WorkerBackoffSeconds)
	require.Len(t, cfg.Carriers, 1)
	require.Equal(t, "blaze", cfg.Carriers[0].Driver)
	require.Equal(t, "40.00", cfg.RateCards[0].Zones[0].BaseCost)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
