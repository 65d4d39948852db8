// Package config provides Viper-based configuration loading for the room
// coordination server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name identifies this instance in logs and in the health service.
	Name string `mapstructure:"name"`
}

// TransportConfig holds WebSocket endpoint settings.
type TransportConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener. Zero picks a random port.
	Port int `mapstructure:"port"`
	// Path is the well-known game endpoint clients connect to.
	Path string `mapstructure:"path"`
	// ReadBufferSize and WriteBufferSize size the upgrader's I/O buffers.
	ReadBufferSize  int `mapstructure:"read_buffer_size"`
	WriteBufferSize int `mapstructure:"write_buffer_size"`
	// MaxMessageSize is the largest inbound frame accepted, in bytes.
	MaxMessageSize int64 `mapstructure:"max_message_size"`
	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PongWait is the idle-disconnect threshold: a connection that sends
	// nothing (not even a pong) for this long is closed.
	PongWait time.Duration `mapstructure:"pong_wait"`
	// PingPeriod is the keep-alive interval. Must be shorter than PongWait.
	PingPeriod time.Duration `mapstructure:"ping_period"`
	// SendQueueSize is the per-connection outbound queue depth.
	SendQueueSize int `mapstructure:"send_queue_size"`
	// Codec is the default wire codec: "json", "msgpack" or "text".
	Codec string `mapstructure:"codec"`
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (t TransportConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// SessionConfig holds registry and authority election settings.
type SessionConfig struct {
	// ElectionPolicy selects the re-election rule: "seniority" or "arbitrary".
	ElectionPolicy string `mapstructure:"election_policy"`
	// SendRoster sends a player entering a room a join notice for each
	// player already present.
	SendRoster bool `mapstructure:"send_roster"`
	// StatsInterval is how often a registry summary is logged. Zero disables it.
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds PostgreSQL connection settings for the presence journal.
type DatabaseConfig struct {
	// Enabled turns the presence journal on. When false no connection is made.
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// JournalConfig holds presence journal writer settings.
type JournalConfig struct {
	// BufferSize is the number of events held before new ones are dropped.
	BufferSize int `mapstructure:"buffer_size"`
	// WriteTimeout bounds a single journal insert.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AdminConfig holds the gRPC health service settings.
type AdminConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.GRPCHost, a.GRPCPort)
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Session   SessionConfig   `mapstructure:"session"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if c.Server.Name == "" {
		errs = append(errs, "server.name must not be empty")
	}
	if err := validateTransport(c.Transport); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSession(c.Session); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	// Database and journal settings only matter once the journal is on.
	if c.Database.Enabled {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
		if err := validateJournal(c.Journal); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.Admin.Enabled {
		if err := validateAdmin(c.Admin); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateTransport(t TransportConfig) error {
	var errs []string
	if t.Port < 0 || t.Port > 65535 {
		errs = append(errs, fmt.Sprintf("transport.port must be 0-65535, got %d", t.Port))
	}
	if !strings.HasPrefix(t.Path, "/") {
		errs = append(errs, fmt.Sprintf("transport.path must start with /, got %q", t.Path))
	}
	if t.MaxMessageSize < 1 {
		errs = append(errs, fmt.Sprintf("transport.max_message_size must be >= 1, got %d", t.MaxMessageSize))
	}
	if t.WriteTimeout <= 0 {
		errs = append(errs, "transport.write_timeout must be positive")
	}
	if t.PongWait <= 0 {
		errs = append(errs, "transport.pong_wait must be positive")
	}
	if t.PingPeriod <= 0 || t.PingPeriod >= t.PongWait {
		errs = append(errs, "transport.ping_period must be positive and shorter than transport.pong_wait")
	}
	if t.SendQueueSize < 1 {
		errs = append(errs, fmt.Sprintf("transport.send_queue_size must be >= 1, got %d", t.SendQueueSize))
	}
	validCodecs := map[string]bool{"json": true, "msgpack": true, "text": true}
	if !validCodecs[t.Codec] {
		errs = append(errs, fmt.Sprintf("transport.codec must be one of [json, msgpack, text], got %q", t.Codec))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSession(s SessionConfig) error {
	validPolicies := map[string]bool{"seniority": true, "arbitrary": true}
	if !validPolicies[s.ElectionPolicy] {
		return fmt.Errorf("session.election_policy must be one of [seniority, arbitrary], got %q", s.ElectionPolicy)
	}
	if s.StatsInterval < 0 {
		return fmt.Errorf("session.stats_interval must not be negative, got %s", s.StatsInterval)
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateJournal(j JournalConfig) error {
	var errs []string
	if j.BufferSize < 1 {
		errs = append(errs, fmt.Sprintf("journal.buffer_size must be >= 1, got %d", j.BufferSize))
	}
	if j.WriteTimeout <= 0 {
		errs = append(errs, "journal.write_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	if a.GRPCHost == "" {
		return errors.New("admin.grpc_host must not be empty")
	}
	if a.GRPCPort < 0 || a.GRPCPort > 65535 {
		return fmt.Errorf("admin.grpc_port must be 0-65535, got %d", a.GRPCPort)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with ROOMSYNC_ prefix
	v.SetEnvPrefix("ROOMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance carrying only the built-in defaults.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "roomsync")

	v.SetDefault("transport.host", "0.0.0.0")
	v.SetDefault("transport.port", 8080)
	v.SetDefault("transport.path", "/game")
	v.SetDefault("transport.read_buffer_size", 1024)
	v.SetDefault("transport.write_buffer_size", 1024)
	v.SetDefault("transport.max_message_size", 4096)
	v.SetDefault("transport.write_timeout", "10s")
	v.SetDefault("transport.pong_wait", "15s")
	v.SetDefault("transport.ping_period", "10s")
	v.SetDefault("transport.send_queue_size", 256)
	v.SetDefault("transport.codec", "json")

	v.SetDefault("session.election_policy", "seniority")
	v.SetDefault("session.send_roster", true)
	v.SetDefault("session.stats_interval", "1m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "roomsync")
	v.SetDefault("database.password", "roomsync")
	v.SetDefault("database.name", "roomsync")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("journal.buffer_size", 1024)
	v.SetDefault("journal.write_timeout", "5s")

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.grpc_host", "127.0.0.1")
	v.SetDefault("admin.grpc_port", 50051)
}
