// Package config loads process settings from an optional YAML file and the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/CodePapayas/a-life-cs461/internal/autosave"
	"github.com/CodePapayas/a-life-cs461/internal/persistence"
)

// Config is the full process configuration.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	AutoSave AutoSaveConfig `mapstructure:"autosave"`
	Engine   EngineConfig   `mapstructure:"engine"`
	World    WorldConfig    `mapstructure:"world"`
	API      APIConfig      `mapstructure:"api"`
	Log      LogConfig      `mapstructure:"log"`
}

// StoreConfig selects the snapshot database.
type StoreConfig struct {
	Driver          string         `mapstructure:"driver"` // sqlite | postgres
	Path            string         `mapstructure:"path"`   // sqlite file
	CompressGenomes bool           `mapstructure:"compress_genomes"`
	Postgres        PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds the server connection settings. Each field can
// also come from ALIFE_DB_HOST, ALIFE_DB_PORT, ALIFE_DB_NAME, ALIFE_DB_USER
// and ALIFE_DB_PASS.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// AutoSaveConfig is the initial schedule; a config row stored by an earlier
// run takes precedence unless Reset is set.
type AutoSaveConfig struct {
	IntervalTicks uint32 `mapstructure:"interval_ticks"`
	MaxAutoSaves  uint32 `mapstructure:"max_auto_saves"`
	Enabled       bool   `mapstructure:"enabled"`
	SlotPrefix    string `mapstructure:"slot_prefix"`
	Reset         bool   `mapstructure:"reset"`
}

type EngineConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	HistoryCapacity int           `mapstructure:"history_capacity"`
	MaxTicks        uint64        `mapstructure:"max_ticks"` // 0 runs until stopped
}

type WorldConfig struct {
	Width     int32 `mapstructure:"width"`
	Height    int32 `mapstructure:"height"`
	Seed      int64 `mapstructure:"seed"`
	Agents    int   `mapstructure:"agents"`
	Resources int   `mapstructure:"resources"`
}

type APIConfig struct {
	Port      int     `mapstructure:"port"` // 0 disables the server
	AdminKey  string  `mapstructure:"admin_key"`
	RateLimit float64 `mapstructure:"rate_limit"` // admin requests per second per client
	Burst     int     `mapstructure:"burst"`

	// TrustProxy keys rate limits on X-Forwarded-For. Off unless the API
	// sits behind a proxy that sets the header.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

type LogConfig struct {
	Level string `mapstructure:"level"` // debug | info | warn | error
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", string(persistence.DialectSQLite))
	v.SetDefault("store.path", "data/alife.db")
	v.SetDefault("store.compress_genomes", true)

	pg := persistence.DefaultPGParams()
	v.SetDefault("store.postgres.host", pg.Host)
	v.SetDefault("store.postgres.port", pg.Port)
	v.SetDefault("store.postgres.name", pg.Database)
	v.SetDefault("store.postgres.user", pg.User)
	v.SetDefault("store.postgres.password", pg.Password)

	as := autosave.DefaultConfig()
	v.SetDefault("autosave.interval_ticks", as.IntervalTicks)
	v.SetDefault("autosave.max_auto_saves", as.MaxAutoSaves)
	v.SetDefault("autosave.enabled", as.Enabled)
	v.SetDefault("autosave.slot_prefix", as.SlotPrefix)
	v.SetDefault("autosave.reset", false)

	v.SetDefault("engine.interval", 100*time.Millisecond)
	v.SetDefault("engine.history_capacity", 1000)
	v.SetDefault("engine.max_ticks", 0)

	v.SetDefault("world.width", 64)
	v.SetDefault("world.height", 64)
	v.SetDefault("world.seed", 42)
	v.SetDefault("world.agents", 50)
	v.SetDefault("world.resources", 120)

	v.SetDefault("api.port", 0)
	v.SetDefault("api.admin_key", "")
	v.SetDefault("api.rate_limit", 1.0)
	v.SetDefault("api.burst", 3)
	v.SetDefault("api.trust_proxy", false)

	v.SetDefault("log.level", "info")
}

// Load reads path (skipped when empty) and overlays ALIFE_* environment
// variables, e.g. ALIFE_AUTOSAVE_INTERVAL_TICKS.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ALIFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"store.postgres.host":     "ALIFE_DB_HOST",
		"store.postgres.port":     "ALIFE_DB_PORT",
		"store.postgres.name":     "ALIFE_DB_NAME",
		"store.postgres.user":     "ALIFE_DB_USER",
		"store.postgres.password": "ALIFE_DB_PASS",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
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

// Validate rejects settings the simulation cannot start with.
func (c *Config) Validate() error {
	switch persistence.Dialect(c.Store.Driver) {
	case persistence.DialectSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path is required for sqlite")
		}
	case persistence.DialectPostgres:
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if err := c.AutoSave.Scheduler().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Engine.HistoryCapacity <= 0 {
		return fmt.Errorf("config: engine.history_capacity must be positive")
	}
	if c.Engine.Interval < 0 {
		return fmt.Errorf("config: engine.interval must not be negative")
	}
	if c.World.Width <= 0 || c.World.Height <= 0 {
		return fmt.Errorf("config: world dimensions must be positive")
	}
	if c.World.Agents < 0 || c.World.Resources < 0 {
		return fmt.Errorf("config: world populations must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Options converts the store settings for persistence.Open.
func (c StoreConfig) Options() persistence.Options {
	return persistence.Options{
		Driver: persistence.Dialect(c.Driver),
		Path:   c.Path,
		Postgres: persistence.PGParams{
			Host:     c.Postgres.Host,
			Port:     c.Postgres.Port,
			Database: c.Postgres.Name,
			User:     c.Postgres.User,
			Password: c.Postgres.Password,
		},
	}
}

// Scheduler converts the auto-save settings.
func (c AutoSaveConfig) Scheduler() autosave.Config {
	return autosave.Config{
		IntervalTicks: c.IntervalTicks,
		MaxAutoSaves:  c.MaxAutoSaves,
		Enabled:       c.Enabled,
		SlotPrefix:    c.SlotPrefix,
	}
}

// SlogLevel returns the configured level; Validate has already checked it.
func (c LogConfig) SlogLevel() slog.Level {
	l, _ := parseLevel(c.Level)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return l, nil
}
