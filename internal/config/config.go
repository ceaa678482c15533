package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents ~/.petchat/config.toml.
type Config struct {
	DefaultInstance string `toml:"default_instance"`

	HTTP     HTTPConfig     `toml:"http"`
	Store    StoreConfig    `toml:"store"`
	Auth     AuthConfig     `toml:"auth"`
	Realtime RealtimeConfig `toml:"realtime"`
	Delivery DeliveryConfig `toml:"delivery"`
	Events   EventsConfig   `toml:"events"`
	Limits   LimitsConfig   `toml:"limits"`
	Log      LogConfig      `toml:"log"`
}

type HTTPConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// StoreConfig selects the persistence backend. Path is only used by sqlite
// and is relative to the instance directory when not absolute.
type StoreConfig struct {
	Driver    string   `toml:"driver"`
	Path      string   `toml:"path"`
	MongoURI  string   `toml:"mongo_uri"`
	MongoDB   string   `toml:"mongo_db"`
	OpTimeout Duration `toml:"op_timeout"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
}

type RealtimeConfig struct {
	AuthTimeout  Duration `toml:"auth_timeout"`
	SendBuffer   int      `toml:"send_buffer"`
	PingInterval Duration `toml:"ping_interval"`
}

// DeliveryConfig selects how pushes reach connections held by other
// daemon instances.
type DeliveryConfig struct {
	Backend   string `toml:"backend"`
	RedisAddr string `toml:"redis_addr"`
	NatsURL   string `toml:"nats_url"`
	Channel   string `toml:"channel"`
}

type EventsConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type LimitsConfig struct {
	SendPerSecond float64 `toml:"send_per_second"`
	SendBurst     int     `toml:"send_burst"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration that reads and writes as a TOML string ("5s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a config with every field populated.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:           "127.0.0.1:8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Store: StoreConfig{
			Driver:    "sqlite",
			Path:      "petchat.db",
			MongoDB:   "petchat",
			OpTimeout: Duration{5 * time.Second},
		},
		Realtime: RealtimeConfig{
			AuthTimeout:  Duration{10 * time.Second},
			SendBuffer:   128,
			PingInterval: Duration{30 * time.Second},
		},
		Delivery: DeliveryConfig{
			Backend: "local",
			Channel: "petchat.push",
		},
		Events: EventsConfig{
			Topic: "petchat.messages",
		},
		Limits: LimitsConfig{
			SendPerSecond: 5,
			SendBurst:     10,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are skipped; variables already set are not overwritten.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from PETCHAT_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PETCHAT_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("PETCHAT_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("PETCHAT_MONGO_URI"); v != "" {
		c.Store.MongoURI = v
	}
	if v := os.Getenv("PETCHAT_MONGO_DB"); v != "" {
		c.Store.MongoDB = v
	}
	if v := os.Getenv("PETCHAT_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("PETCHAT_DELIVERY_BACKEND"); v != "" {
		c.Delivery.Backend = v
	}
	if v := os.Getenv("PETCHAT_REDIS_ADDR"); v != "" {
		c.Delivery.RedisAddr = v
	}
	if v := os.Getenv("PETCHAT_NATS_URL"); v != "" {
		c.Delivery.NatsURL = v
	}
	if v := os.Getenv("PETCHAT_KAFKA_BROKERS"); v != "" {
		c.Events.Brokers = splitList(v)
		c.Events.Enabled = true
	}
	if v := os.Getenv("PETCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			return fmt.Errorf("store.mongo_uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	switch c.Delivery.Backend {
	case "local":
	case "redis":
		if c.Delivery.RedisAddr == "" {
			return fmt.Errorf("delivery.redis_addr is required for the redis backend")
		}
	case "nats":
		if c.Delivery.NatsURL == "" {
			return fmt.Errorf("delivery.nats_url is required for the nats backend")
		}
	default:
		return fmt.Errorf("unknown delivery backend %q", c.Delivery.Backend)
	}
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		return fmt.Errorf("events.brokers is required when events are enabled")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
