// Package config resolves relay settings from defaults, an optional YAML
// file and RELAY_* environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	UpstreamAddr       string        `yaml:"upstream_addr"`
	ListenAddr         string        `yaml:"listen_addr"`
	FrameBufferSize    int           `yaml:"frame_buffer_size"`
	InboxSize          int           `yaml:"inbox_size"`
	OutboxSize         int           `yaml:"outbox_size"`
	ClientMessageLimit int64         `yaml:"client_message_limit"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ReconnectAttempts  int           `yaml:"reconnect_attempts"`
	ReconnectInitial   time.Duration `yaml:"reconnect_initial"`
	ReconnectMax       time.Duration `yaml:"reconnect_max"`
	ControlRate        float64       `yaml:"control_rate"`
	ControlBurst       int           `yaml:"control_burst"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`
	LogLevel           string        `yaml:"log_level"`
	LogFormat          string        `yaml:"log_format"`
}

func Default() Config {
	return Config{
		UpstreamAddr:       "127.0.0.1:9010",
		ListenAddr:         ":9009",
		FrameBufferSize:    1 << 20,
		InboxSize:          256,
		OutboxSize:         16,
		ClientMessageLimit: 4096,
		WriteTimeout:       3 * time.Second,
		ReconnectAttempts:  5,
		ReconnectInitial:   250 * time.Millisecond,
		ReconnectMax:       10 * time.Second,
		ControlRate:        5,
		ControlBurst:       10,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// Load reads .env if present, then the YAML file at path (skipped when path
// is empty), then the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("RELAY_UPSTREAM_ADDR", &c.UpstreamAddr)
	str("RELAY_LISTEN_ADDR", &c.ListenAddr)
	integer("RELAY_FRAME_BUFFER_SIZE", &c.FrameBufferSize)
	integer("RELAY_INBOX_SIZE", &c.InboxSize)
	integer("RELAY_OUTBOX_SIZE", &c.OutboxSize)
	if v, ok := lookup("RELAY_CLIENT_MESSAGE_LIMIT"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("RELAY_CLIENT_MESSAGE_LIMIT: %w", err))
		} else {
			c.ClientMessageLimit = n
		}
	}
	duration("RELAY_WRITE_TIMEOUT", &c.WriteTimeout)
	integer("RELAY_RECONNECT_ATTEMPTS", &c.ReconnectAttempts)
	duration("RELAY_RECONNECT_INITIAL", &c.ReconnectInitial)
	duration("RELAY_RECONNECT_MAX", &c.ReconnectMax)
	if v, ok := lookup("RELAY_CONTROL_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("RELAY_CONTROL_RATE: %w", err))
		} else {
			c.ControlRate = f
		}
	}
	integer("RELAY_CONTROL_BURST", &c.ControlBurst)
	if v, ok := lookup("RELAY_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	str("RELAY_LOG_LEVEL", &c.LogLevel)
	str("RELAY_LOG_FORMAT", &c.LogFormat)
	return errs
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.UpstreamAddr != "", "upstream address is required")
	check(c.ListenAddr != "", "listen address is required")
	check(c.FrameBufferSize >= 4, "frame buffer size %d is below the 4-byte header", c.FrameBufferSize)
	check(c.InboxSize > 0, "inbox size must be positive, got %d", c.InboxSize)
	check(c.OutboxSize > 0, "outbox size must be positive, got %d", c.OutboxSize)
	check(c.ClientMessageLimit > 0, "client message limit must be positive, got %d", c.ClientMessageLimit)
	check(c.WriteTimeout > 0, "write timeout must be positive, got %s", c.WriteTimeout)
	check(c.ReconnectAttempts >= 0, "reconnect attempts cannot be negative, got %d", c.ReconnectAttempts)
	check(c.ReconnectInitial > 0 && c.ReconnectMax >= c.ReconnectInitial,
		"reconnect backoff must satisfy 0 < initial (%s) <= max (%s)", c.ReconnectInitial, c.ReconnectMax)
	check(c.ControlRate > 0, "control rate must be positive, got %g", c.ControlRate)
	check(c.ControlBurst > 0, "control burst must be positive, got %d", c.ControlBurst)
	check(c.LogFormat == "json" || c.LogFormat == "console", "log format must be json or console, got %q", c.LogFormat)
	return errs
}
