// Package config defines Pulse's YAML configuration and its defaults.
//
// Configuration is organized into per-concern sections mirroring the
// component layout: server, logging, auth, storage, mail, and scheduler.
// Values may reference environment variables with ${VAR} syntax.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/pulse/pkg/models"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Mail      MailConfig      `yaml:"mail"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is "json" or "text". JSON is recommended in production.
	Format string `yaml:"format"`
}

// AuthConfig configures bearer-token verification at the websocket
// handshake and on the HTTP API.
type AuthConfig struct {
	// JWTSecret is the HMAC secret used to verify bearer tokens.
	JWTSecret string `yaml:"jwt_secret"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is one of "memory", "sqlite", "postgres".
	Driver string `yaml:"driver"`
	// Path is the database file for the sqlite driver.
	Path string `yaml:"path"`
	// DSN is the connection string for the postgres driver.
	DSN string `yaml:"dsn"`
}

// MailConfig configures the outbound mail transport hand-off.
type MailConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is the HTTP mail API messages URL.
	Endpoint string `yaml:"endpoint"`
	// Secret is sent as a bearer credential to the mail API.
	Secret string `yaml:"secret"`
	// From is the sender address on rendered messages.
	From string `yaml:"from"`
	// Timeout bounds a single hand-off request.
	Timeout time.Duration `yaml:"timeout"`
}

// SchedulerConfig configures the job registry and the time-derived state
// rules the jobs apply. Cadence values are cron expressions or @every
// durations; exact values are configuration, not protocol.
type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	TickInterval time.Duration `yaml:"tick_interval"`

	AgingCadence    string `yaml:"aging_cadence"`
	OverdueCadence  string `yaml:"overdue_cadence"`
	WarrantyCadence string `yaml:"warranty_cadence"`
	LowStockCadence string `yaml:"low_stock_cadence"`

	// SLAWindows maps a priority to its time budget. A case older than its
	// window is in SLA breach.
	SLAWindows map[models.Priority]time.Duration `yaml:"sla_windows"`

	// WarrantyBandsDays are the days-remaining thresholds for tiered
	// warranty-expiry notices, closest band last.
	WarrantyBandsDays []int `yaml:"warranty_bands_days"`
}

// Default returns a configuration with production-sane defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8480},
		Log:    LogConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "pulse.db",
		},
		Mail: MailConfig{
			Timeout: 15 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			TickInterval:    time.Second,
			AgingCadence:    "@every 1h",
			OverdueCadence:  "0 8 * * *",
			WarrantyCadence: "0 9 * * *",
			LowStockCadence: "0 7 * * 1",
			SLAWindows: map[models.Priority]time.Duration{
				models.PriorityCritical: 4 * time.Hour,
				models.PriorityHigh:     8 * time.Hour,
				models.PriorityMedium:   24 * time.Hour,
				models.PriorityLow:      72 * time.Hour,
			},
			WarrantyBandsDays: []int{30, 15, 7, 1},
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	if c.Mail.Enabled && strings.TrimSpace(c.Mail.Endpoint) == "" {
		return fmt.Errorf("mail.endpoint is required when mail is enabled")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	for priority, window := range c.Scheduler.SLAWindows {
		if window <= 0 {
			return fmt.Errorf("scheduler.sla_windows[%s] must be positive", priority)
		}
	}
	for _, days := range c.Scheduler.WarrantyBandsDays {
		if days <= 0 {
			return fmt.Errorf("scheduler.warranty_bands_days entries must be positive")
		}
	}
	return nil
}
