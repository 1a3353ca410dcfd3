// Package config loads service configuration from defaults, an optional YAML
// file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"formhooks/internal/logging"
)

type Config struct {
	Port     string          `yaml:"port"`
	Database DatabaseConfig  `yaml:"database"`
	RedisURL string          `yaml:"redis_url"`
	Auth     AuthConfig      `yaml:"auth"`
	Log      logging.Config  `yaml:"log"`
	Webhooks WebhooksConfig  `yaml:"webhooks"`
	Submit   RateLimitConfig `yaml:"submit_rate"`
}

type DatabaseConfig struct {
	// URL selects Postgres when set.
	URL string `yaml:"url"`
	// SQLitePath selects embedded SQLite when URL is empty.
	SQLitePath string `yaml:"sqlite_path"`
	Migrate    bool   `yaml:"migrate"`
}

type AuthConfig struct {
	Mode       string `yaml:"mode"`
	HMACSecret string `yaml:"hmac_secret"`
	JWKSURL    string `yaml:"jwks_url"`
	OwnerClaim string `yaml:"owner_claim"`
	RoleClaim  string `yaml:"role_claim"`
}

type WebhooksConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
	// TrustProxy keys clients by X-Forwarded-For; enable only behind a proxy
	// that overwrites the header.
	TrustProxy bool `yaml:"trust_proxy"`
}

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		Port:     "8080",
		Database: DatabaseConfig{Migrate: true},
		Auth: AuthConfig{
			Mode:       "dev",
			OwnerClaim: "owner",
			RoleClaim:  "role",
		},
		Log:      logging.Config{Level: "info", Format: "text"},
		Webhooks: WebhooksConfig{Workers: 32, QueueSize: 1024},
		Submit:   RateLimitConfig{RPS: 2, Burst: 10},
	}
}

// Load builds the configuration. CONFIG_FILE, when set, names a YAML file
// applied on top of the defaults; environment variables win over both.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Port, "PORT")
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Database.SQLitePath, "SQLITE_PATH")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.Auth.Mode, "AUTH_MODE")
	setString(&cfg.Auth.HMACSecret, "AUTH_HMAC_SECRET")
	setString(&cfg.Auth.JWKSURL, "AUTH_JWKS_URL")
	setString(&cfg.Auth.OwnerClaim, "AUTH_OWNER_CLAIM")
	setString(&cfg.Auth.RoleClaim, "AUTH_ROLE_CLAIM")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Log.FilePath, "LOG_FILE")
	if v := os.Getenv("DB_MIGRATE"); v != "" {
		cfg.Database.Migrate = v != "false"
	}
	if v := os.Getenv("TRUST_PROXY_HEADERS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRUST_PROXY_HEADERS: %w", err)
		}
		cfg.Submit.TrustProxy = b
	}
	if err := setInt(&cfg.Webhooks.Workers, "WEBHOOK_WORKERS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Webhooks.QueueSize, "WEBHOOK_QUEUE_SIZE"); err != nil {
		return err
	}
	if err := setInt(&cfg.Submit.Burst, "SUBMIT_RATE_BURST"); err != nil {
		return err
	}
	if v := os.Getenv("SUBMIT_RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SUBMIT_RATE_RPS: %w", err)
		}
		cfg.Submit.RPS = f
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.Webhooks.Workers <= 0 {
		return fmt.Errorf("webhooks.workers must be > 0")
	}
	if c.Webhooks.QueueSize <= 0 {
		return fmt.Errorf("webhooks.queue_size must be > 0")
	}
	switch c.Auth.Mode {
	case "dev", "hmac", "jwks":
	default:
		return fmt.Errorf("unsupported auth mode %q", c.Auth.Mode)
	}
	if c.Auth.Mode == "hmac" && c.Auth.HMACSecret == "" {
		return fmt.Errorf("auth.hmac_secret is required in hmac mode")
	}
	if c.Auth.Mode == "jwks" && c.Auth.JWKSURL == "" {
		return fmt.Errorf("auth.jwks_url is required in jwks mode")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
