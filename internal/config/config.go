package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RelayConfig captures all tunable parameters for the relay process.
// Values are loaded once from the environment with defaults that match
// the mobile clients, so the binary runs locally without any setup.
type RelayConfig struct {
	WSPort      int     `mapstructure:"WS_PORT"`
	HTTPPort    int     `mapstructure:"HTTP_PORT"`
	MaxDistance float64 `mapstructure:"MAX_DISTANCE"`

	ReadTimeout     time.Duration `mapstructure:"HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `mapstructure:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `mapstructure:"HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	WSReadLimit    int64         `mapstructure:"WS_READ_LIMIT"`
	WSWriteTimeout time.Duration `mapstructure:"WS_WRITE_TIMEOUT"`

	MatchConcurrency  int           `mapstructure:"MATCH_CONCURRENCY"`
	DriverMaxAge      time.Duration `mapstructure:"DRIVER_MAX_AGE"`
	EvictOnDisconnect bool          `mapstructure:"EVICT_ON_DISCONNECT"`

	KafkaBrokersRaw string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic      string `mapstructure:"KAFKA_TOPIC"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisGeoKey   string `mapstructure:"REDIS_GEO_KEY"`

	SinkBuffer int `mapstructure:"SINK_BUFFER"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

var defaults = map[string]any{
	"WS_PORT":             8080,
	"HTTP_PORT":           3001,
	"MAX_DISTANCE":        5000.0,
	"HTTP_READ_TIMEOUT":   5 * time.Second,
	"HTTP_WRITE_TIMEOUT":  10 * time.Second,
	"HTTP_IDLE_TIMEOUT":   120 * time.Second,
	"SHUTDOWN_TIMEOUT":    15 * time.Second,
	"WS_READ_LIMIT":       8192,
	"WS_WRITE_TIMEOUT":    10 * time.Second,
	"MATCH_CONCURRENCY":   0,
	"DRIVER_MAX_AGE":      time.Duration(0),
	"EVICT_ON_DISCONNECT": false,
	"KAFKA_BROKERS":       "",
	"KAFKA_TOPIC":         "driver-locations",
	"REDIS_ADDR":          "",
	"REDIS_PASSWORD":      "",
	"REDIS_GEO_KEY":       "drivers_geo",
	"SINK_BUFFER":         1024,
	"LOG_LEVEL":           "info",
}

// Load reads the relay configuration from the environment. Every invalid
// value is reported, not just the first one.
func Load() (RelayConfig, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	var cfg RelayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RelayConfig{}, fmt.Errorf("decode environment: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.KafkaTopic = strings.TrimSpace(cfg.KafkaTopic)
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)

	return cfg, cfg.Validate()
}

// Validate checks the cross-field constraints that decoding cannot express.
func (c RelayConfig) Validate() error {
	var errs []error
	if !validPort(c.WSPort) {
		errs = append(errs, fmt.Errorf("WS_PORT must be in 1..65535, got %d", c.WSPort))
	}
	if !validPort(c.HTTPPort) {
		errs = append(errs, fmt.Errorf("HTTP_PORT must be in 1..65535, got %d", c.HTTPPort))
	}
	if c.WSPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("WS_PORT and HTTP_PORT must differ, both are %d", c.WSPort))
	}
	if c.MaxDistance <= 0 {
		errs = append(errs, fmt.Errorf("MAX_DISTANCE must be > 0"))
	}
	if c.WSReadLimit <= 0 {
		errs = append(errs, fmt.Errorf("WS_READ_LIMIT must be > 0"))
	}
	if c.MatchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("MATCH_CONCURRENCY must be >= 0"))
	}
	if c.DriverMaxAge < 0 {
		errs = append(errs, fmt.Errorf("DRIVER_MAX_AGE must be >= 0"))
	}
	if c.SinkBuffer <= 0 {
		errs = append(errs, fmt.Errorf("SINK_BUFFER must be > 0"))
	}
	return errors.Join(errs...)
}

// KafkaBrokers returns the configured broker list; empty means the event
// stream is disabled.
func (c RelayConfig) KafkaBrokers() []string {
	return splitAndTrim(c.KafkaBrokersRaw)
}

// WSAddr and HTTPAddr are the listen addresses for the two surfaces.
func (c RelayConfig) WSAddr() string   { return fmt.Sprintf(":%d", c.WSPort) }
func (c RelayConfig) HTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

func validPort(p int) bool { return p > 0 && p <= 65535 }

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ConsumerConfig configures cmd/consumer, which mirrors the relay's
// location event stream into Redis.
type ConsumerConfig struct {
	MetricsAddr     string `mapstructure:"METRICS_ADDR"`
	KafkaBrokersRaw string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic      string `mapstructure:"KAFKA_TOPIC"`
	KafkaGroup      string `mapstructure:"KAFKA_GROUP"`
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisPassword   string `mapstructure:"REDIS_PASSWORD"`
	RedisGeoKey     string `mapstructure:"REDIS_GEO_KEY"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
}

func LoadConsumer() (ConsumerConfig, error) {
	v := viper.New()
	v.SetDefault("METRICS_ADDR", ":2112")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC", "driver-locations")
	v.SetDefault("KAFKA_GROUP", "ride-relay-geo-mirror")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_GEO_KEY", "drivers_geo")
	v.SetDefault("LOG_LEVEL", "info")
	v.AutomaticEnv()

	var cfg ConsumerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ConsumerConfig{}, fmt.Errorf("decode environment: %w", err)
	}
	if len(cfg.KafkaBrokers()) == 0 {
		return cfg, fmt.Errorf("KAFKA_BROKERS must name at least one broker")
	}
	return cfg, nil
}

func (c ConsumerConfig) KafkaBrokers() []string {
	return splitAndTrim(c.KafkaBrokersRaw)
}
