package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Auth           AuthConfig           `yaml:"auth"`
	Database       DatabaseConfig       `yaml:"database"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Broadcast      BroadcastConfig      `yaml:"broadcast"`
	Discord        DiscordConfig        `yaml:"discord"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	HealthPort      int           `yaml:"health_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres" or "memory"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Migrate  bool   `yaml:"migrate"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// TelemetryConfig holds OpenTelemetry settings. An empty OTLPEndpoint disables export.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// BroadcastConfig holds event fan-out settings.
type BroadcastConfig struct {
	// SubscriberBuffer is the per-subscriber queue length. A subscriber that
	// falls this far behind is disconnected.
	SubscriberBuffer int         `yaml:"subscriber_buffer"`
	Redis            RedisConfig `yaml:"redis"`
	Kafka            KafkaConfig `yaml:"kafka"`
}

// RedisConfig configures the Redis pub/sub mirror.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// KafkaConfig configures the Kafka event feed.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// DiscordConfig holds Discord bot settings. One guild is bound to one scope.
type DiscordConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
	Scope     string `yaml:"scope"`
}

// Load reads a YAML configuration file from the given path. A .env file in
// the same directory, if present, is loaded into the environment first and
// ${VAR} references in the YAML are expanded.
func Load(path string) (*Config, error) {
	path = filepath.Clean(path)
	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			HealthPort:      8081,
			ShutdownTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			Issuer: "draftauction",
		},
		Database: DatabaseConfig{
			Driver:  "postgres",
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Migrate: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "draftauction",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "draftauction-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Broadcast: BroadcastConfig{
			SubscriberBuffer: 64,
			Redis: RedisConfig{
				Addr:          "localhost:6379",
				ChannelPrefix: "auction",
			},
			Kafka: KafkaConfig{
				Topic: "auction-events",
			},
		},
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Broadcast.SubscriberBuffer <= 0 {
		return fmt.Errorf("broadcast.subscriber_buffer must be positive, got %d", c.Broadcast.SubscriberBuffer)
	}
	if c.Broadcast.Kafka.Enabled && len(c.Broadcast.Kafka.Brokers) == 0 {
		return errors.New("broadcast.kafka.brokers is required when kafka is enabled")
	}
	if c.Discord.Enabled && (c.Discord.Token == "" || c.Discord.GuildID == "" || c.Discord.Scope == "") {
		return errors.New("discord.token, discord.guild_id and discord.scope are required when discord is enabled")
	}
	return nil
}
