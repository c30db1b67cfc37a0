package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables. The firmware constants (slot
// capacity, chunk size, restart delay) are compile-time and live in the
// update package; only deployment concerns are configurable here.
type Config struct {
	DataDir string `envconfig:"DATA_DIR" default:"/var/lib/paneld"`
	DBPath  string `envconfig:"DB_PATH" default:"/var/lib/paneld/boot.db"`

	SerialDevice string `envconfig:"SERIAL_DEVICE"`
	PanelID      int    `envconfig:"PANEL_ID" default:"1"`

	NetworkInterface string `envconfig:"NETWORK_INTERFACE"`
	MDNSEnabled      bool   `envconfig:"MDNS_ENABLED" default:"true"`

	RestartCommand string `envconfig:"RESTART_COMMAND" default:"/sbin/reboot"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"INFO"`

	Telemetry struct {
		Enabled bool `split_words:"true" default:"true"`
		// Optional OTLP gRPC collector endpoint, e.g. "otel-collector:4317".
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress string `split_words:"true" default:"0.0.0.0:80"`
		// Read timeout bounds the whole firmware upload; uploads over slow
		// links need headroom.
		ReadTimeout     time.Duration `split_words:"true" default:"120s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
