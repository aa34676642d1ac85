// Package config resolves client settings from defaults, an optional YAML
// file and REVIEWSYNC_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/review"
)

// FileName is looked up in the working directory when no path is given.
const FileName = "reviewsync.yaml"

const envPrefix = "REVIEWSYNC_"

type Config struct {
	APIURL         string            `mapstructure:"api_url"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	RetryLimit     int               `mapstructure:"retry_limit"`
	RetryDelay     time.Duration     `mapstructure:"retry_delay"`
	ReconnectDelay time.Duration     `mapstructure:"reconnect_delay"`
	PollInterval   time.Duration     `mapstructure:"poll_interval"`
	Transport      string            `mapstructure:"transport"`
	StaleTimes     review.StaleTimes `mapstructure:"stale_times"`
	Inbox          Inbox             `mapstructure:"inbox"`
	Verbose        bool              `mapstructure:"verbose"`
}

type Inbox struct {
	Dir     string `mapstructure:"dir"`
	Pattern string `mapstructure:"pattern"`
}

func Default() Config {
	return Config{
		APIURL:         api.DefaultBaseURL,
		Timeout:        api.DefaultTimeout,
		RetryLimit:     api.DefaultMaxRetries,
		RetryDelay:     300 * time.Millisecond,
		ReconnectDelay: 3 * time.Second,
		PollInterval:   2 * time.Second,
		Transport:      "sse",
		StaleTimes:     review.DefaultStaleTimes(),
		Inbox:          Inbox{Pattern: "*.json"},
	}
}

// Load layers path (or ./reviewsync.yaml when path is empty) and the
// environment over Default. A missing default file is not an error; a
// missing explicit one is.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = FileName
	}
	if err := loadFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

func applyEnv(cfg *Config) {
	cfg.APIURL = envOrDefault(envPrefix+"API_URL", cfg.APIURL)
	cfg.Timeout = durationEnv(envPrefix+"TIMEOUT", cfg.Timeout)
	cfg.RetryLimit = intEnv(envPrefix+"RETRY_LIMIT", cfg.RetryLimit)
	cfg.RetryDelay = durationEnv(envPrefix+"RETRY_DELAY", cfg.RetryDelay)
	cfg.ReconnectDelay = durationEnv(envPrefix+"RECONNECT_DELAY", cfg.ReconnectDelay)
	cfg.PollInterval = durationEnv(envPrefix+"POLL_INTERVAL", cfg.PollInterval)
	cfg.Transport = envOrDefault(envPrefix+"TRANSPORT", cfg.Transport)
	cfg.Inbox.Dir = envOrDefault(envPrefix+"INBOX_DIR", cfg.Inbox.Dir)
	cfg.Inbox.Pattern = envOrDefault(envPrefix+"INBOX_PATTERN", cfg.Inbox.Pattern)
	cfg.Verbose = boolEnv(envPrefix+"VERBOSE", cfg.Verbose)
}

func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url %q must be an absolute http(s) URL", c.APIURL)
	}
	switch strings.ToLower(c.Transport) {
	case "", "sse", "websocket", "ws":
	default:
		return fmt.Errorf("transport %q must be sse or websocket", c.Transport)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("retry_limit must not be negative, got %d", c.RetryLimit)
	}
	if c.ReconnectDelay <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("reconnect_delay and poll_interval must be positive")
	}
	return nil
}

// ClientOptions maps the fetch settings onto the API client. A retry limit
// of zero disables retries.
func (c Config) ClientOptions(logger api.Logger) api.ClientOptions {
	retries := c.RetryLimit
	if retries == 0 {
		retries = -1
	}
	return api.ClientOptions{
		BaseURL:    c.APIURL,
		Timeout:    c.Timeout,
		MaxRetries: retries,
		BaseDelay:  c.RetryDelay,
		Logger:     logger,
	}
}

// YAML renders the effective configuration with durations in their
// human-readable form.
func (c Config) YAML() ([]byte, error) {
	doc := map[string]any{
		"api_url":         c.APIURL,
		"timeout":         c.Timeout.String(),
		"retry_limit":     c.RetryLimit,
		"retry_delay":     c.RetryDelay.String(),
		"reconnect_delay": c.ReconnectDelay.String(),
		"poll_interval":   c.PollInterval.String(),
		"transport":       c.Transport,
		"stale_times": map[string]string{
			"files":       c.StaleTimes.Files.String(),
			"file_detail": c.StaleTimes.FileDetail.String(),
			"threads":     c.StaleTimes.Threads.String(),
			"summaries":   c.StaleTimes.Summaries.String(),
			"health":      c.StaleTimes.Health.String(),
			"task_status": c.StaleTimes.TaskStatus.String(),
		},
		"inbox": map[string]string{
			"dir":     c.Inbox.Dir,
			"pattern": c.Inbox.Pattern,
		},
		"verbose": c.Verbose,
	}
	return yaml.Marshal(doc)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}
