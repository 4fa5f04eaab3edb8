// Package config provides configuration loading for forge.
//
// Configuration is assembled from built-in defaults, an optional YAML file
// and FORGE_* environment variables. See LoadWithFile for precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Auth modes accepted by TFSConfig.AuthMode.
const (
	AuthModePAT    = "pat"
	AuthModeOAuth2 = "oauth2"
)

// Database drivers accepted by DatabaseConfig.Driver.
const (
	DriverSQLite    = "sqlite"
	DriverSQLServer = "sqlserver"
)

// Config holds the complete forge configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	TFS          TFSConfig          `koanf:"tfs"`
	Database     DatabaseConfig     `koanf:"database"`
	CollectionDB CollectionDBConfig `koanf:"collectiondb"`
	Events       EventsConfig       `koanf:"events"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// TFSConfig describes how to reach the team foundation server.
type TFSConfig struct {
	// ServerURL is the configuration server root, e.g. https://tfs.example.com/tfs.
	ServerURL string `koanf:"server_url"`
	AuthMode  string `koanf:"auth_mode"`
	PAT       Secret `koanf:"pat"`

	OAuth2TokenURL     string   `koanf:"oauth2_token_url"`
	OAuth2ClientID     string   `koanf:"oauth2_client_id"`
	OAuth2ClientSecret Secret   `koanf:"oauth2_client_secret"`
	OAuth2Scopes       []string `koanf:"oauth2_scopes"`

	// SourceControl is the version control type for new projects (Git or Tfvc).
	SourceControl string `koanf:"source_control"`

	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	PollInterval      time.Duration `koanf:"poll_interval"`
	ServicingTimeout  time.Duration `koanf:"servicing_timeout"`
	OperationTimeout  time.Duration `koanf:"operation_timeout"`
}

// DatabaseConfig holds the relational store configuration.
type DatabaseConfig struct {
	Driver string `koanf:"driver"`
	DSN    Secret `koanf:"dsn"`
}

// CollectionDBConfig points at the SQL Server that hosts collection databases.
type CollectionDBConfig struct {
	Enabled bool   `koanf:"enabled"`
	DSN     Secret `koanf:"dsn"`
	Prefix  string `koanf:"prefix"`
}

// EventsConfig holds NATS event publishing configuration.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Defaults returns the built-in configuration values keyed by koanf path.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.http_host":        "0.0.0.0",
		"server.http_port":        8080,
		"server.shutdown_timeout": "10s",

		"tfs.auth_mode":           AuthModePAT,
		"tfs.source_control":      "Git",
		"tfs.requests_per_second": 10.0,
		"tfs.burst":               5,
		"tfs.request_timeout":     "30s",
		"tfs.poll_interval":       "2s",
		"tfs.servicing_timeout":   "30m",
		"tfs.operation_timeout":   "10m",

		"database.driver": DriverSQLite,
		"database.dsn":    "forge.db",

		"collectiondb.enabled": false,
		"collectiondb.prefix":  "Tfs_",

		"events.enabled":        false,
		"events.nats_url":       "nats://localhost:4222",
		"events.subject_prefix": "forge",

		"logging.level":  "info",
		"logging.format": "json",

		"telemetry.enabled":      false,
		"telemetry.endpoint":     "localhost:4317",
		"telemetry.protocol":     "grpc",
		"telemetry.insecure":     true,
		"telemetry.service_name": "forge",
		"telemetry.sample_rate":  1.0,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if err := c.TFS.validate(); err != nil {
		return fmt.Errorf("tfs: %w", err)
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverSQLServer:
	default:
		return fmt.Errorf("database: unsupported driver %q", c.Database.Driver)
	}
	if !c.Database.DSN.IsSet() {
		return errors.New("database: dsn is required")
	}

	if c.CollectionDB.Enabled && !c.CollectionDB.DSN.IsSet() {
		return errors.New("collectiondb: dsn is required when enabled")
	}

	if c.Events.Enabled && c.Events.NATSURL == "" {
		return errors.New("events: nats_url is required when enabled")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging: format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry: endpoint is required when enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry: sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
		}
	}

	return nil
}

func (t *TFSConfig) validate() error {
	if t.ServerURL == "" {
		return errors.New("server_url is required")
	}
	u, err := url.Parse(t.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server_url must be http or https, got %q", u.Scheme)
	}

	switch t.AuthMode {
	case AuthModePAT:
		if !t.PAT.IsSet() {
			return errors.New("pat is required for auth_mode pat")
		}
	case AuthModeOAuth2:
		if t.OAuth2TokenURL == "" || t.OAuth2ClientID == "" || !t.OAuth2ClientSecret.IsSet() {
			return errors.New("oauth2_token_url, oauth2_client_id and oauth2_client_secret are required for auth_mode oauth2")
		}
	default:
		return fmt.Errorf("unsupported auth_mode %q", t.AuthMode)
	}

	if t.SourceControl != "Git" && t.SourceControl != "Tfvc" {
		return fmt.Errorf("source_control must be Git or Tfvc, got %q", t.SourceControl)
	}
	if t.RequestsPerSecond <= 0 {
		return errors.New("requests_per_second must be positive")
	}
	if t.Burst < 1 {
		return errors.New("burst must be at least 1")
	}
	if t.PollInterval <= 0 || t.ServicingTimeout <= 0 || t.OperationTimeout <= 0 {
		return errors.New("poll_interval, servicing_timeout and operation_timeout must be positive")
	}
	return nil
}
