package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	AWS       AWSConfig       `yaml:"aws"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
	// FixturesPath seeds an in-memory store when URL is empty.
	FixturesPath string `yaml:"fixtures_path"`
}

// RedisConfig holds Redis settings. An empty Addr disables the cache.
type RedisConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// CacheTTL returns the read-through cache TTL.
func (c RedisConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// TrackingConfig holds tracking token and URL settings.
type TrackingConfig struct {
	Secret  string `yaml:"secret"`
	BaseURL string `yaml:"base_url"`
	// PixelTTLHours bounds pixel tokens. Zero means no expiry.
	PixelTTLHours int `yaml:"pixel_ttl_hours"`
	// RedirectTTLHours bounds click-through tokens. Zero means no expiry.
	RedirectTTLHours int `yaml:"redirect_ttl_hours"`
}

func (c TrackingConfig) PixelTTL() time.Duration {
	return time.Duration(c.PixelTTLHours) * time.Hour
}

func (c TrackingConfig) RedirectTTL() time.Duration {
	return time.Duration(c.RedirectTTLHours) * time.Hour
}

// DeliveryConfig holds ad selection settings.
type DeliveryConfig struct {
	MaxAds int `yaml:"max_ads"`
}

// Analytics store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreDynamo   = "dynamodb"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// AnalyticsConfig selects the counter store and how writes reach it.
type AnalyticsConfig struct {
	Store               string `yaml:"store"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	// QueueURL routes events through SQS to cmd/worker when set.
	QueueURL      string `yaml:"queue_url"`
	DynamoTable   string `yaml:"dynamo_table"`
	RetentionDays int    `yaml:"retention_days"`
}

// WriteTimeout bounds a single asynchronous analytics write.
func (c AnalyticsConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// Retention is how long hour and day buckets are kept where the store
// supports expiry.
func (c AnalyticsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// AWSConfig holds AWS credentials. Empty keys fall back to the default
// credential chain.
type AWSConfig struct {
	Region    string `yaml:"region"`
	Profile   string `yaml:"profile"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// Endpoint overrides service endpoints, e.g. for LocalStack.
	Endpoint string `yaml:"endpoint"`
}

// MongoConfig holds MongoDB settings.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level    string `yaml:"level"`
	RedactIP *bool  `yaml:"redact_ip"`
}

// ShouldRedactIP reports whether IP addresses are masked in logs. Defaults
// to true.
func (c LogConfig) ShouldRedactIP() bool {
	return c.RedactIP == nil || *c.RedactIP
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}
	if cfg.Redis.CacheTTLSeconds == 0 {
		cfg.Redis.CacheTTLSeconds = 60
	}
	if cfg.Tracking.PixelTTLHours == 0 {
		cfg.Tracking.PixelTTLHours = 24
	}
	if cfg.Delivery.MaxAds == 0 {
		cfg.Delivery.MaxAds = 20
	}
	if cfg.Analytics.Store == "" {
		cfg.Analytics.Store = StorePostgres
	}
	if cfg.Analytics.WriteTimeoutSeconds == 0 {
		cfg.Analytics.WriteTimeoutSeconds = 5
	}
	if cfg.Analytics.DynamoTable == "" {
		cfg.Analytics.DynamoTable = "fortnight-analytics"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "fortnight"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS. A
// missing config file is not an error; defaults apply.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TRACKING_SECRET"); v != "" {
		cfg.Tracking.Secret = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("ANALYTICS_STORE"); v != "" {
		cfg.Analytics.Store = v
	}
	if v := os.Getenv("SQS_ANALYTICS_QUEUE_URL"); v != "" {
		cfg.Analytics.QueueURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWS.SecretKey = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// Validate reports configuration that cannot serve traffic.
func (cfg *Config) Validate() error {
	if cfg.Tracking.Secret == "" {
		return fmt.Errorf("tracking.secret (TRACKING_SECRET) is required")
	}
	switch cfg.Analytics.Store {
	case StorePostgres:
		if cfg.Database.URL == "" {
			return fmt.Errorf("analytics store %q requires database.url", cfg.Analytics.Store)
		}
	case StoreRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("analytics store %q requires redis.addr", cfg.Analytics.Store)
		}
	case StoreMongo:
		if cfg.Mongo.URI == "" {
			return fmt.Errorf("analytics store %q requires mongo.uri", cfg.Analytics.Store)
		}
	case StoreDynamo, StoreMemory:
	default:
		return fmt.Errorf("unknown analytics store %q", cfg.Analytics.Store)
	}
	return nil
}
