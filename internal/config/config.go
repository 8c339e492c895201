package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr        string `yaml:"api_addr"`     // API bind address, e.g., "127.0.0.1:8080" (Windows) or ":8080" (Docker)
	LogDir      string `yaml:"log_dir"`      // logs directory
	LogLevel    string `yaml:"log_level"`    // debug | info | warn | error
	LogStdout   bool   `yaml:"log_stdout"`   // also write logs to stderr
	DatabaseURL string `yaml:"database_url"` // "" = sqlite data/uptime.db, memory://, sqlite://path, postgres://...

	ProbeTimeout         time.Duration `yaml:"probe_timeout"` // 0 = bounded only by shutdown
	ShutdownGrace        time.Duration `yaml:"shutdown_grace"`
	DefaultCheckInterval int           `yaml:"default_check_interval"` // seconds
	DNSDiagnose          bool          `yaml:"dns_diagnose"`

	OpsgenieAPIKey  string `yaml:"opsgenie_api_key"`
	OpsgenieAPIURL  string `yaml:"opsgenie_api_url"`
	SlackWebhookURL string `yaml:"slack_webhook_url"`

	PublicAPIKeys  []string `yaml:"public_api_keys"`
	AdminAPIKeys   []string `yaml:"admin_api_keys"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	PublicRPM      int      `yaml:"public_rpm"`
	PublicBurst    int      `yaml:"public_burst"`
	AdminRPM       int      `yaml:"admin_rpm"`
	AdminBurst     int      `yaml:"admin_burst"`
}

func Defaults() Config {
	return Config{
		Addr:                 "127.0.0.1:8080",
		LogDir:               "logs",
		LogLevel:             "info",
		ShutdownGrace:        10 * time.Second,
		DefaultCheckInterval: 60,
		DNSDiagnose:          true,
		PublicRPM:            120,
		PublicBurst:          60,
		AdminRPM:             60,
		AdminBurst:           30,
	}
}

// FromEnv is Defaults overridden by the environment.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

// Load layers defaults, the YAML file at path (skipped when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs error
	if c.Addr == "" {
		errs = multierr.Append(errs, errors.New("api_addr is empty"))
	}
	if c.DefaultCheckInterval <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("default_check_interval must be > 0, got %d", c.DefaultCheckInterval))
	}
	if c.ProbeTimeout < 0 {
		errs = multierr.Append(errs, fmt.Errorf("probe_timeout must be >= 0, got %s", c.ProbeTimeout))
	}
	if c.ShutdownGrace < 0 {
		errs = multierr.Append(errs, fmt.Errorf("shutdown_grace must be >= 0, got %s", c.ShutdownGrace))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	return errs
}

func applyEnv(c *Config) {
	str("API_ADDR", &c.Addr)
	str("LOG_DIR", &c.LogDir)
	str("LOG_LEVEL", &c.LogLevel)
	boolean("LOG_STDOUT", &c.LogStdout)
	str("DATABASE_URL", &c.DatabaseURL)

	millis("PROBE_TIMEOUT_MS", &c.ProbeTimeout)
	millis("SHUTDOWN_GRACE_MS", &c.ShutdownGrace)
	positive("DEFAULT_CHECK_INTERVAL", &c.DefaultCheckInterval)
	boolean("DNS_DIAGNOSE", &c.DNSDiagnose)

	str("OPSGENIE_API_KEY", &c.OpsgenieAPIKey)
	str("OPSGENIE_API_URL", &c.OpsgenieAPIURL)
	str("SLACK_WEBHOOK_URL", &c.SlackWebhookURL)

	list("PUBLIC_API_KEYS", &c.PublicAPIKeys)
	list("ADMIN_API_KEYS", &c.AdminAPIKeys)
	list("ALLOWED_ORIGINS", &c.AllowedOrigins)
	nonNegative("PUBLIC_RPM", &c.PublicRPM)
	nonNegative("PUBLIC_BURST", &c.PublicBurst)
	nonNegative("ADMIN_RPM", &c.AdminRPM)
	nonNegative("ADMIN_BURST", &c.AdminBurst)
}

func str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func boolean(key string, dst *bool) {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		*dst = b
	}
}

func millis(key string, dst *time.Duration) {
	if ms, err := strconv.Atoi(os.Getenv(key)); err == nil && ms >= 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func positive(key string, dst *int) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		*dst = n
	}
}

func nonNegative(key string, dst *int) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n >= 0 {
		*dst = n
	}
}

func list(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}
