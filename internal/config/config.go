// Package config loads the server configuration and the per-line display
// configuration files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"gopkg.in/yaml.v3"

	"github.com/pcdshub/pmps-ui/internal/beamclass"
	"github.com/pcdshub/pmps-ui/internal/logging"
)

// EnvPrefix prefixes environment overrides. PMPS_SERVER__PORT=9000 sets
// server.port.
const EnvPrefix = "PMPS_"

// AppConfig represents the root configuration structure
type AppConfig struct {
	Server     ServerConfig     `koanf:"server" yaml:"server"`
	Storage    StorageConfig    `koanf:"storage" yaml:"storage"`
	Processing ProcessingConfig `koanf:"processing" yaml:"processing"`
	Gateway    GatewayConfig    `koanf:"gateway" yaml:"gateway"`
	BeamClass  BeamClassConfig  `koanf:"beamclass" yaml:"beamclass"`
	Advanced   AdvancedConfig   `koanf:"advanced" yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           int    `koanf:"port" yaml:"port"`
	BindAddress    string `koanf:"bind_address" yaml:"bind_address"`
	EnableCORS     bool   `koanf:"enable_cors" yaml:"enable_cors"`
	AllowOrigins   string `koanf:"allow_origins" yaml:"allow_origins"`
	ReadTimeout    int    `koanf:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeout   int    `koanf:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	IdleTimeout    int    `koanf:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
	RequestTimeout int    `koanf:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	BodyLimit      string `koanf:"body_limit" yaml:"body_limit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory     string `koanf:"data_directory" yaml:"data_directory"`
	HistoryDirectory  string `koanf:"history_directory" yaml:"history_directory"`
	LineConfigDir     string `koanf:"line_config_directory" yaml:"line_config_directory"`
	EnablePersistence bool   `koanf:"enable_persistence" yaml:"enable_persistence"`
	RetentionHours    int    `koanf:"retention_hours" yaml:"retention_hours"`
}

// ProcessingConfig contains session and view settings
type ProcessingConfig struct {
	SessionTimeoutMinutes  int     `koanf:"session_timeout_minutes" yaml:"session_timeout_minutes"`
	CleanupIntervalMinutes int     `koanf:"cleanup_interval_minutes" yaml:"cleanup_interval_minutes"`
	MaxSessions            int     `koanf:"max_sessions" yaml:"max_sessions"`
	ViewPushRate           float64 `koanf:"view_push_rate" yaml:"view_push_rate"`
	ArchiveBatchSize       int     `koanf:"archive_batch_size" yaml:"archive_batch_size"`
	ArchiveFlushMillis     int     `koanf:"archive_flush_millis" yaml:"archive_flush_millis"`
	EnableCompression      bool    `koanf:"enable_compression" yaml:"enable_compression"`
	CompressionLevel       int     `koanf:"compression_level" yaml:"compression_level"`
}

// GatewayConfig controls how the bus reaches Channel Access.
type GatewayConfig struct {
	Loopback       bool `koanf:"loopback" yaml:"loopback"`
	OutboundBuffer int  `koanf:"outbound_buffer" yaml:"outbound_buffer"`
}

// BeamClassConfig selects the beam-class table revision.
type BeamClassConfig struct {
	Variant   string `koanf:"variant" yaml:"variant"`
	TableFile string `koanf:"table_file" yaml:"table_file"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `koanf:"log_level" yaml:"log_level"`
	LogFormat               string `koanf:"log_format" yaml:"log_format"`
	EnableRequestLogging    bool   `koanf:"enable_request_logging" yaml:"enable_request_logging"`
	DuckDBThreads           int    `koanf:"duckdb_threads" yaml:"duckdb_threads"`
	DuckDBMemoryLimit       string `koanf:"duckdb_memory_limit" yaml:"duckdb_memory_limit"`
	WebSocketMaxMessageSize int    `koanf:"websocket_max_message_size_kb" yaml:"websocket_max_message_size_kb"`
}

// ValidationError names the offending configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:           8089,
			BindAddress:    "0.0.0.0",
			EnableCORS:     true,
			AllowOrigins:   "*",
			ReadTimeout:    30,
			WriteTimeout:   30,
			IdleTimeout:    120,
			RequestTimeout: 30,
			BodyLimit:      "1M",
		},
		Storage: StorageConfig{
			DataDirectory:     "./data",
			HistoryDirectory:  "./data/history",
			LineConfigDir:     ".",
			EnablePersistence: true,
			RetentionHours:    24,
		},
		Processing: ProcessingConfig{
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			MaxSessions:            50,
			ViewPushRate:           10,
			ArchiveBatchSize:       256,
			ArchiveFlushMillis:     500,
			EnableCompression:      true,
			CompressionLevel:       5,
		},
		Gateway: GatewayConfig{
			Loopback:       false,
			OutboundBuffer: 1024,
		},
		BeamClass: BeamClassConfig{
			Variant: beamclass.DefaultVariant,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			LogFormat:               logging.FormatText,
			EnableRequestLogging:    true,
			DuckDBThreads:           2,
			DuckDBMemoryLimit:       "256MB",
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig layers defaults, the YAML file and PMPS_ environment
// variables. A missing file is created with the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}
	if err := k.Load(file.Provider(configPath), kyaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	config := &AppConfig{}
	if err := k.Unmarshal("", config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// envKey maps PMPS_SERVER__PORT to server.port.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration as YAML.
func (c *AppConfig) Save(configPath string) error {
	var buf bytes.Buffer
	buf.WriteString("# PMPS diagnostic service configuration\n# This file is auto-generated on first run\n\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides keeps the short PORT and DATA_DIR variables
// that container deployments set.
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.HistoryDirectory,
		&c.Storage.LineConfigDir,
		&c.BeamClass.TableFile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// Validate checks value ranges.
func (c *AppConfig) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return &ValidationError{Field: "server.port", Reason: fmt.Sprintf("%d is not a TCP port", c.Server.Port)}
	case c.Processing.MaxSessions <= 0:
		return &ValidationError{Field: "processing.max_sessions", Reason: "must be positive"}
	case c.Processing.ViewPushRate <= 0:
		return &ValidationError{Field: "processing.view_push_rate", Reason: "must be positive"}
	case c.Processing.SessionTimeoutMinutes <= 0:
		return &ValidationError{Field: "processing.session_timeout_minutes", Reason: "must be positive"}
	}
	if c.BeamClass.TableFile == "" {
		known := false
		for _, v := range beamclass.Variants() {
			if v == c.BeamClass.Variant {
				known = true
			}
		}
		if !known {
			return &ValidationError{Field: "beamclass.variant", Reason: fmt.Sprintf("unknown variant %q", c.BeamClass.Variant)}
		}
	}
	return nil
}

// BeamClassTable loads the configured table revision.
func (c *AppConfig) BeamClassTable() (*beamclass.Table, error) {
	if c.BeamClass.TableFile != "" {
		return beamclass.LoadFile(c.BeamClass.TableFile)
	}
	return beamclass.Load(c.BeamClass.Variant)
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{c.Storage.DataDirectory}
	if c.Storage.EnablePersistence {
		dirs = append(dirs, c.Storage.HistoryDirectory)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
