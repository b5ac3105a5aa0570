package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"edrconsole/internal/eventbus"
	"edrconsole/internal/logging"
)

const (
	DefaultConfigPath = ".edrconsole/config.json"
	DefaultKeyEnv     = "EDRCONSOLE_SIGNING_KEY"
)

type Config struct {
	Version int `json:"version"`
	API     struct {
		BaseURL        string `json:"base_url"`
		TimeoutSeconds int    `json:"timeout_seconds"`
		Token          string `json:"token,omitempty"`
		Operator       string `json:"operator,omitempty"`
	} `json:"api"`
	Signing struct {
		KeyPath string `json:"key_path,omitempty"`
		KeyEnv  string `json:"key_env"`
	} `json:"signing"`
	Polling struct {
		DetailIntervalMS   int `json:"detail_interval_ms"`
		RosterIntervalMS   int `json:"roster_interval_ms"`
		LogIntervalSeconds int `json:"log_interval_seconds"`
	} `json:"polling"`
	Dispatch struct {
		BulkConcurrency   int     `json:"bulk_concurrency"`
		BulkRatePerSecond float64 `json:"bulk_rate_per_second"`
		AwaitIntervalMS   int     `json:"await_interval_ms"`
		AwaitMaxAttempts  int     `json:"await_max_attempts"`
	} `json:"dispatch"`
	Events struct {
		Backend string `json:"backend"`
		Redis   struct {
			URL   string `json:"url,omitempty"`
			Group string `json:"group,omitempty"`
		} `json:"redis"`
	} `json:"events"`
	Logging struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"logging"`
}

func Default() Config {
	cfg := Config{
		Version: 1,
	}
	cfg.API.BaseURL = "http://localhost:8080/api"
	cfg.API.TimeoutSeconds = 15
	cfg.Signing.KeyEnv = DefaultKeyEnv
	cfg.Polling.DetailIntervalMS = 2000
	cfg.Polling.RosterIntervalMS = 5000
	cfg.Polling.LogIntervalSeconds = 60
	cfg.Dispatch.AwaitIntervalMS = 2000
	cfg.Dispatch.AwaitMaxAttempts = 30
	cfg.Events.Backend = eventbus.BackendNone
	cfg.Logging.Level = "info"
	cfg.Logging.Format = logging.FormatConsole
	return cfg
}

func Load(path string) (Config, string, error) {
	cfg := Default()
	finalPath := path
	if strings.TrimSpace(finalPath) == "" {
		finalPath = DefaultConfigPath
	}
	if _, err := os.Stat(finalPath); os.IsNotExist(err) {
		return cfg, finalPath, nil
	}

	b, err := os.ReadFile(finalPath)
	if err != nil {
		return cfg, finalPath, fmt.Errorf("read config %s: %w", finalPath, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, finalPath, fmt.Errorf("parse config %s: %w", finalPath, err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, finalPath, fmt.Errorf("validate config %s: %w", finalPath, err)
	}
	return cfg, finalPath, nil
}

func SaveDefault(path string) error {
	cfg := Default()
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func Validate(cfg Config) error {
	if cfg.Version <= 0 {
		return fmt.Errorf("version must be positive")
	}
	base := strings.TrimSpace(cfg.API.BaseURL)
	if base == "" {
		return fmt.Errorf("api.base_url cannot be empty")
	}
	parsed, err := url.Parse(base)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute http(s) url")
	}
	if cfg.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if strings.TrimSpace(cfg.Signing.KeyPath) == "" && strings.TrimSpace(cfg.Signing.KeyEnv) == "" {
		return fmt.Errorf("signing.key_path or signing.key_env must be set")
	}
	if cfg.Polling.DetailIntervalMS <= 0 || cfg.Polling.RosterIntervalMS <= 0 {
		return fmt.Errorf("polling intervals must be > 0")
	}
	if cfg.Polling.LogIntervalSeconds < 0 {
		return fmt.Errorf("polling.log_interval_seconds must be >= 0")
	}
	if cfg.Dispatch.BulkConcurrency < 0 {
		return fmt.Errorf("dispatch.bulk_concurrency must be >= 0")
	}
	if cfg.Dispatch.BulkRatePerSecond < 0 {
		return fmt.Errorf("dispatch.bulk_rate_per_second must be >= 0")
	}
	if cfg.Dispatch.AwaitIntervalMS <= 0 || cfg.Dispatch.AwaitMaxAttempts <= 0 {
		return fmt.Errorf("dispatch await interval and attempts must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Events.Backend)) {
	case "", eventbus.BackendNone, eventbus.BackendMemory:
	case eventbus.BackendRedis:
		if strings.TrimSpace(cfg.Events.Redis.URL) == "" {
			return fmt.Errorf("events.redis.url is required when events.backend=redis")
		}
	default:
		return fmt.Errorf("events.backend must be none|memory|redis")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("logging.format must be console|json")
	}
	return nil
}

func (c Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c Config) DetailInterval() time.Duration {
	return time.Duration(c.Polling.DetailIntervalMS) * time.Millisecond
}

func (c Config) RosterInterval() time.Duration {
	return time.Duration(c.Polling.RosterIntervalMS) * time.Millisecond
}

func (c Config) LogInterval() time.Duration {
	return time.Duration(c.Polling.LogIntervalSeconds) * time.Second
}

func (c Config) AwaitInterval() time.Duration {
	return time.Duration(c.Dispatch.AwaitIntervalMS) * time.Millisecond
}

func (c Config) EventOptions() eventbus.Options {
	return eventbus.Options{
		Backend:       c.Events.Backend,
		RedisURL:      c.Events.Redis.URL,
		ConsumerGroup: c.Events.Redis.Group,
	}
}
