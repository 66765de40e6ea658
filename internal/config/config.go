// Package config loads the sharedws daemon configuration from TOML with
// SHAREDWS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/sharedws/internal/env"
	"github.com/loykin/sharedws/internal/logger"
)

// EnvPrefix prefixes every environment override, e.g.
// SHAREDWS_WORKSPACE_COMBINATOR or SHAREDWS_RECLAIM_RETENTION.
const EnvPrefix = "SHAREDWS"

type Config struct {
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Workspace WorkspaceConfig `toml:"workspace" mapstructure:"workspace"`
	Reclaim   ReclaimConfig   `toml:"reclaim" mapstructure:"reclaim"`
	State     StateConfig     `toml:"state" mapstructure:"state"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History   []HistoryConfig `toml:"history" mapstructure:"history"`
}

type ServerConfig struct {
	Listen        string    `toml:"listen" mapstructure:"listen"`
	BasePath      string    `toml:"base_path" mapstructure:"base_path"`
	TLSMinVersion string    `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string    `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS           TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool       `toml:"enabled" mapstructure:"enabled"`
	CertFile     string     `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string     `toml:"key_file" mapstructure:"key_file"`
	Dir          string     `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool       `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type WorkspaceConfig struct {
	// Combinator separates a base path from its suffix index (ws@2).
	Combinator string `toml:"combinator" mapstructure:"combinator"`
	MaxProbe   int    `toml:"max_probe" mapstructure:"max_probe"`
}

type ReclaimConfig struct {
	Enabled    bool          `toml:"enabled" mapstructure:"enabled"`
	Interval   time.Duration `toml:"interval" mapstructure:"interval"`
	Retention  time.Duration `toml:"retention" mapstructure:"retention"`
	KeepFailed bool          `toml:"keep_failed" mapstructure:"keep_failed"`
}

type StateConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Source     bool   `toml:"source" mapstructure:"source"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls_min_version", "")
	v.SetDefault("server.tls_max_version", "")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)

	v.SetDefault("workspace.combinator", "@")
	v.SetDefault("workspace.max_probe", 0)

	v.SetDefault("reclaim.enabled", true)
	v.SetDefault("reclaim.interval", time.Hour)
	v.SetDefault("reclaim.retention", 30*24*time.Hour)
	v.SetDefault("reclaim.keep_failed", false)

	v.SetDefault("state.dsn", "sharedws-state.json")

	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Default returns the built-in defaults without environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// defaults are static
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Load reads the TOML file at path (optional), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.expand(env.New())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expand resolves ${VAR} references in DSNs and file paths.
func (c *Config) expand(e *env.Env) {
	c.State.DSN = e.Expand(c.State.DSN)
	for i := range c.History {
		c.History[i].DSN = e.Expand(c.History[i].DSN)
	}
	c.Log.File = e.Expand(c.Log.File)
	c.Server.TLS.CertFile = e.Expand(c.Server.TLS.CertFile)
	c.Server.TLS.KeyFile = e.Expand(c.Server.TLS.KeyFile)
	c.Server.TLS.Dir = e.Expand(c.Server.TLS.Dir)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	if c.Workspace.Combinator == "" {
		errs = append(errs, errors.New("workspace.combinator must not be empty"))
	} else if strings.ContainsAny(c.Workspace.Combinator, `/\`) {
		errs = append(errs, fmt.Errorf("workspace.combinator %q must not contain a path separator", c.Workspace.Combinator))
	}
	if c.Workspace.MaxProbe < 0 {
		errs = append(errs, errors.New("workspace.max_probe must be >= 0"))
	}
	if c.Reclaim.Retention <= 0 {
		errs = append(errs, errors.New("reclaim.retention must be positive"))
	}
	if c.Reclaim.Enabled && c.Reclaim.Interval <= 0 {
		errs = append(errs, errors.New("reclaim.interval must be positive"))
	}
	if strings.TrimSpace(c.State.DSN) == "" {
		errs = append(errs, errors.New("state.dsn is required"))
	}
	switch logger.Format(c.Log.Format) {
	case logger.FormatText, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	switch logger.Level(strings.ToLower(c.Log.Level)) {
	case logger.LevelDebug, logger.LevelInfo, logger.LevelWarn, logger.LevelError:
	default:
		errs = append(errs, fmt.Errorf("log.level %q is unknown", c.Log.Level))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	for i, h := range c.History {
		if strings.TrimSpace(h.DSN) == "" {
			errs = append(errs, fmt.Errorf("history[%d].dsn is required", i))
		}
	}
	return errors.Join(errs...)
}

// Logger converts the [log] section to a logger configuration.
func (c LogConfig) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(strings.ToLower(c.Level)),
			Format:     logger.Format(c.Format),
			Color:      c.Color,
			TimeStamps: c.TimeStamps,
			Source:     c.Source,
		},
		File: logger.FileConfig{
			Path:       c.File,
			MaxSizeMB:  c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAgeDays: c.MaxAgeDays,
			Compress:   c.Compress,
		},
	}
}
