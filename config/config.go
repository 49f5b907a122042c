package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	S3        S3Config        `yaml:"s3"`
	ShipBox   ShipBoxConfig   `yaml:"shipbox"`
	Carriers  []CarrierConfig `yaml:"carriers"`
	RateCards []RateCard      `yaml:"rate_cards"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // "postgres" | "sqlite"
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DBName     string `yaml:"name"`
	SSLMode    string `yaml:"ssl_mode"`
	SQLitePath string `yaml:"sqlite_path"`
}

type KafkaConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	TrackingTopicName   string `yaml:"tracking_topic_name"`
	LabelEventTopicName string `yaml:"label_event_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MQTTConfig describes the warehouse scanner feed. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// S3Config describes the label archive bucket. An empty Bucket disables archiving.
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type ShipBoxConfig struct {
	GRPCAddr                string `yaml:"grpc_addr"`
	HTTPAddr                string `yaml:"http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds"`

	BatchSize     int `yaml:"batch_size"`
	MaxBatchItems int `yaml:"max_batch_items"`

	RetryMaxAttempts          int `yaml:"retry_max_attempts"`
	RetryBaseDelayMillis      int `yaml:"retry_base_delay_ms"`
	CarrierCallTimeoutSeconds int `yaml:"carrier_call_timeout_seconds"`
	LabelLockSeconds          int `yaml:"label_lock_seconds"`

	RateShopEnabled   bool   `yaml:"rate_shop_enabled"`
	RateShopObjective string `yaml:"rate_shop_objective"` // "cheapest" | "cheapest_within_sla" | "fastest"
	RateShopMaxDays   int    `yaml:"rate_shop_max_days"`

	NotifyQueueSize int `yaml:"notify_queue_size"`
	NotifyWorkers   int `yaml:"notify_workers"`

	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int    `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int    `yaml:"worker_rate_limit_per_minute"`
	WorkerHTTPAddr            string `yaml:"worker_http_addr"`

	// Worker scheduling. Zero means the production defaults:
	// in transit 30..120 minutes, unknown 90 minutes, backoff 5/15/30/60 minutes.
	WorkerNextCheckInTransitMinSeconds int   `yaml:"worker_next_check_in_transit_min_seconds"`
	WorkerNextCheckInTransitMaxSeconds int   `yaml:"worker_next_check_in_transit_max_seconds"`
	WorkerNextCheckUnknownSeconds      int   `yaml:"worker_next_check_unknown_seconds"`
	WorkerBackoffSeconds               []int `yaml:"worker_backoff_seconds"`
}

type CarrierConfig struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Driver   string `yaml:"driver"` // "sandbox" | "blaze" | "northpost" | "shipkart"
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Secret   string `yaml:"secret"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// RateCard prices one carrier. VolumetricDivisor turns L*W*H in cm into kilograms; 5000 when unset.
type RateCard struct {
	Carrier           string     `yaml:"carrier"`
	VolumetricDivisor float64    `yaml:"volumetric_divisor"`
	Zones             []ZoneRate `yaml:"zones"`
}

type ZoneRate struct {
	Zone         string `yaml:"zone"` // LOCAL | REGIONAL | ZONAL | NATIONAL
	BaseCost     string `yaml:"base_cost"`
	BaseWeightKg string `yaml:"base_weight_kg"`
	StepKg       string `yaml:"step_kg"`
	StepCost     string `yaml:"step_cost"`
	SLADays      int    `yaml:"sla_days"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

func (c *Config) PostgresConnString() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName, sslMode)
}

func (c *Config) KafkaBrokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Kafka.Host, c.Kafka.Port)}
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) TrackingTopic() string {
	if c.Kafka.TrackingTopicName == "" {
		return "shipment.tracking"
	}
	return c.Kafka.TrackingTopicName
}

func (c *Config) LabelEventTopic() string {
	if c.Kafka.LabelEventTopicName == "" {
		return "label.generated"
	}
	return c.Kafka.LabelEventTopicName
}

func (s ShipBoxConfig) CacheTTL() time.Duration {
	return secondsOr(s.CurrentStatusTTLSeconds, 10*time.Minute)
}

func (s ShipBoxConfig) RetryBaseDelay() time.Duration {
	if s.RetryBaseDelayMillis <= 0 {
		return time.Second
	}
	return time.Duration(s.RetryBaseDelayMillis) * time.Millisecond
}

func (s ShipBoxConfig) CarrierCallTimeout() time.Duration {
	return secondsOr(s.CarrierCallTimeoutSeconds, 15*time.Second)
}

func (s ShipBoxConfig) LabelLockTTL() time.Duration {
	return secondsOr(s.LabelLockSeconds, 60*time.Second)
}

func secondsOr(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}
