package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/loykin/keepalive/internal/logger"
	"github.com/loykin/keepalive/internal/sweep"
	"github.com/loykin/keepalive/internal/telemetry"
	tlsx "github.com/loykin/keepalive/internal/tls"
)

// EnvPrefix namespaces environment overrides, e.g. KEEPALIVE_GITHUB_TOKEN or
// KEEPALIVE_ENGINE_INTERVAL_MINUTES.
const EnvPrefix = "KEEPALIVE"

// Config is the daemon configuration, read from TOML.
type Config struct {
	EnvFiles []string         `mapstructure:"env_files"`
	Admins   []string         `mapstructure:"admins" validate:"dive,required"`
	GitHub   GitHubConfig     `mapstructure:"github"`
	Engine   EngineConfig     `mapstructure:"engine"`
	Store    StoreConfig      `mapstructure:"store"`
	History  HistoryConfig    `mapstructure:"history"`
	Server   ServerConfig     `mapstructure:"server"`
	Metrics  MetricsConfig    `mapstructure:"metrics"`
	Tracing  telemetry.Config `mapstructure:"tracing"`
	Log      logger.Config    `mapstructure:"log"`
}

type GitHubConfig struct {
	Token        string        `mapstructure:"token" validate:"required"`
	APIURL       string        `mapstructure:"api_url" validate:"omitempty,url"`
	APIVersion   string        `mapstructure:"api_version"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gte=0"`
	TouchTimeout time.Duration `mapstructure:"touch_timeout" validate:"gte=0"`
	TouchGap     time.Duration `mapstructure:"touch_gap"`
}

// EngineConfig tunes the sweep engine. A negative StartGrace or ResourcePause
// disables that wait.
type EngineConfig struct {
	IntervalMinutes int           `mapstructure:"interval_minutes" validate:"min=5,max=120"`
	StartGrace      time.Duration `mapstructure:"start_grace"`
	ResourcePause   time.Duration `mapstructure:"resource_pause"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout" validate:"gte=0"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns" validate:"dive,required"`
}

type ServerConfig struct {
	Listen   string      `mapstructure:"listen" validate:"required,hostname_port"`
	BasePath string      `mapstructure:"base_path"`
	TLS      tlsx.Config `mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env_files", []string{})
	v.SetDefault("admins", []string{})
	v.SetDefault("github.token", "")
	v.SetDefault("github.api_url", "")
	v.SetDefault("github.api_version", "2022-11-28")
	v.SetDefault("github.timeout", "30s")
	v.SetDefault("github.touch_timeout", "60s")
	v.SetDefault("github.touch_gap", "2s")
	v.SetDefault("engine.interval_minutes", sweep.DefaultIntervalMinutes)
	v.SetDefault("engine.start_grace", sweep.DefaultStartGrace.String())
	v.SetDefault("engine.resource_pause", sweep.DefaultResourcePause.String())
	v.SetDefault("engine.stop_timeout", sweep.DefaultStopTimeout.String())
	v.SetDefault("store.dsn", "keepalive.json")
	v.SetDefault("history.dsns", []string{})
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "default")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.sampling_rate", 1.0)
	v.SetDefault("tracing.pretty_print", false)
	v.SetDefault("log.slog.level", string(logger.LevelInfo))
	v.SetDefault("log.slog.format", string(logger.FormatText))
	v.SetDefault("log.slog.color", false)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
}

// Load reads path (may be empty for defaults only), applies env files listed
// in it and KEEPALIVE_* overrides, then validates the result. GITHUB_TOKEN is
// accepted as a fallback for github.token.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("github.token", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// Env files only fill variables the process does not already define.
	for _, p := range v.GetStringSlice("env_files") {
		if path != "" && !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(path), p)
		}
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, val := range pairs {
			if _, ok := os.LookupEnv(k); !ok {
				_ = os.Setenv(k, val)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			if k != "" {
				m[k] = v
			}
		}
	}
	return m, nil
}
