package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ListenAddr    string
	DefaultGameID string

	AllowedOrigins  []string
	MaxMessageBytes int64
	IdleTimeout     time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	SendQueue       int

	SessionIdleTTL time.Duration
	ReapInterval   time.Duration

	RedisURL    string
	SnapshotTTL time.Duration
	DatabaseURL string

	ShutdownTimeout time.Duration
}

// fileConfig is the YAML overlay read from CONFIG_FILE. Empty fields keep the default.
type fileConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	DefaultGameID   string   `yaml:"default_game_id"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxMessageBytes int64    `yaml:"max_message_bytes"`
	IdleTimeout     string   `yaml:"idle_timeout"`
	PingInterval    string   `yaml:"ping_interval"`
	WriteTimeout    string   `yaml:"write_timeout"`
	SendQueue       int      `yaml:"send_queue"`
	SessionIdleTTL  string   `yaml:"session_idle_ttl"`
	ReapInterval    string   `yaml:"reap_interval"`
	RedisURL        string   `yaml:"redis_url"`
	SnapshotTTL     string   `yaml:"snapshot_ttl"`
	DatabaseURL     string   `yaml:"database_url"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

func Defaults() *AppConfig {
	return &AppConfig{
		ListenAddr:      ":8080",
		DefaultGameID:   "default",
		MaxMessageBytes: 512,
		IdleTimeout:     2 * time.Minute,
		PingInterval:    30 * time.Second,
		WriteTimeout:    5 * time.Second,
		SendQueue:       64,
		SessionIdleTTL:  30 * time.Minute,
		ReapInterval:    time.Minute,
		SnapshotTTL:     24 * time.Hour,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load builds the config from defaults, then CONFIG_FILE (YAML) if set, then the environment.
func Load() (*AppConfig, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.ListenAddr, fc.ListenAddr)
	setString(&c.DefaultGameID, fc.DefaultGameID)
	setString(&c.RedisURL, fc.RedisURL)
	setString(&c.DatabaseURL, fc.DatabaseURL)
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = splitList(strings.Join(fc.AllowedOrigins, ","))
	}
	if fc.MaxMessageBytes > 0 {
		c.MaxMessageBytes = fc.MaxMessageBytes
	}
	if fc.SendQueue > 0 {
		c.SendQueue = fc.SendQueue
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"idle_timeout", fc.IdleTimeout, &c.IdleTimeout},
		{"ping_interval", fc.PingInterval, &c.PingInterval},
		{"write_timeout", fc.WriteTimeout, &c.WriteTimeout},
		{"session_idle_ttl", fc.SessionIdleTTL, &c.SessionIdleTTL},
		{"reap_interval", fc.ReapInterval, &c.ReapInterval},
		{"snapshot_ttl", fc.SnapshotTTL, &c.SnapshotTTL},
		{"shutdown_timeout", fc.ShutdownTimeout, &c.ShutdownTimeout},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key, d.raw); err != nil {
			return err
		}
	}
	return nil
}

func (c *AppConfig) applyEnv() error {
	setString(&c.ListenAddr, os.Getenv("LISTEN_ADDR"))
	setString(&c.DefaultGameID, os.Getenv("DEFAULT_GAME_ID"))
	setString(&c.RedisURL, os.Getenv("REDIS_URL"))
	setString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("MAX_MESSAGE_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("MAX_MESSAGE_BYTES: invalid value %q", v)
		}
		c.MaxMessageBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("SEND_QUEUE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("SEND_QUEUE: invalid value %q", v)
		}
		c.SendQueue = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"IDLE_TIMEOUT", &c.IdleTimeout},
		{"PING_INTERVAL", &c.PingInterval},
		{"WRITE_TIMEOUT", &c.WriteTimeout},
		{"SESSION_IDLE_TTL", &c.SessionIdleTTL},
		{"REAP_INTERVAL", &c.ReapInterval},
		{"SNAPSHOT_TTL", &c.SnapshotTTL},
		{"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key, os.Getenv(d.key)); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects settings the gateway cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("LISTEN_ADDR is required"))
	}
	if strings.TrimSpace(c.DefaultGameID) == "" {
		errs = append(errs, errors.New("DEFAULT_GAME_ID must not be empty"))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_BYTES must be positive"))
	}
	if c.SendQueue <= 0 {
		errs = append(errs, errors.New("SEND_QUEUE must be positive"))
	}
	if c.IdleTimeout <= 0 || c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("IDLE_TIMEOUT and WRITE_TIMEOUT must be positive"))
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		errs = append(errs, fmt.Errorf("PING_INTERVAL (%s) must be positive and shorter than IDLE_TIMEOUT (%s)", c.PingInterval, c.IdleTimeout))
	}
	if c.SessionIdleTTL < 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TTL must not be negative"))
	}
	if c.ReapInterval <= 0 {
		errs = append(errs, errors.New("REAP_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if s := strings.TrimSpace(v); s != "" {
		*dst = s
	}
}

// setDuration accepts Go durations ("90s") or bare seconds ("90").
func setDuration(dst *time.Duration, key, raw string) error {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
