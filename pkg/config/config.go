package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gridpull/gridpull/pkg/log"
)

// Environment variables honored by Load. The DISPATCHER_* names are kept
// as aliases for deployments written against the original dispatcher.
const (
	EnvConfigPath = "CONFIG_PATH"
	EnvDBType     = "GRIDPULL_DB_TYPE"
	EnvDBPath     = "GRIDPULL_DB_PATH"

	EnvDBTypeAlias = "DISPATCHER_DB_TYPE"
	EnvDBPathAlias = "DISPATCHER_DB_PATH"
)

// DefaultPath is used when CONFIG_PATH is unset
const DefaultPath = "config/dispatcher.json"

// Config is the dispatcher configuration, loaded from a JSON file with
// environment overrides for the database selection
type Config struct {
	Host             string                 `json:"host"`
	Port             int                    `json:"port"`
	CORS             CORSConfig             `json:"cors"`
	Security         SecurityConfig         `json:"security"`
	Database         DatabaseConfig         `json:"database"`
	TaskAssignment   TaskAssignmentConfig   `json:"task_assignment"`
	WorkerManagement WorkerManagementConfig `json:"worker_management"`
}

// CORSConfig controls cross-origin access for the browser admin UI
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// SecurityConfig holds the optional shared-secret API gate
type SecurityConfig struct {
	APIKeyRequired bool     `json:"api_key_required"`
	APIKeys        []string `json:"api_keys"`
}

// DatabaseConfig selects the store backend
type DatabaseConfig struct {
	Type string `json:"type"` // "memory" or "sqlite"
	Path string `json:"path"`
}

// TaskAssignmentConfig tunes the scheduler and retry controller.
// Intervals are seconds, matching the JSON config format.
type TaskAssignmentConfig struct {
	Strategy   string `json:"strategy"`
	MaxRetries int    `json:"max_retries"`
	RetryDelay int    `json:"retry_delay"`
}

// WorkerManagementConfig tunes the liveness monitor
type WorkerManagementConfig struct {
	HeartbeatInterval int  `json:"heartbeat_interval"`
	HeartbeatTimeout  int  `json:"heartbeat_timeout"`
	AutoRemoveOffline bool `json:"auto_remove_offline"`
	OfflineThreshold  int  `json:"offline_threshold"`
}

// Store backend types
const (
	DBTypeMemory = "memory"
	DBTypeSQLite = "sqlite"
)

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Host: "0.0.0.0",
		Port: 8000,
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
		},
		Database: DatabaseConfig{
			Type: DBTypeMemory,
			Path: "data/dispatcher.db",
		},
		TaskAssignment: TaskAssignmentConfig{
			Strategy:   "least_loaded",
			MaxRetries: 3,
			RetryDelay: 300,
		},
		WorkerManagement: WorkerManagementConfig{
			HeartbeatInterval: 30,
			HeartbeatTimeout:  90,
			AutoRemoveOffline: true,
			OfflineThreshold:  300,
		},
	}
}

// Load reads the JSON config file at path, layered over Default. A missing
// file is not an error: the defaults are returned with a warning, so a
// fresh checkout runs without any configuration. Environment variables
// override the database selection last.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Logger.Warn().Str("path", path).Msg("config file not found, using defaults")
	case err != nil:
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if v := firstEnv(EnvDBType, EnvDBTypeAlias); v != "" {
		cfg.Database.Type = v
	}
	if v := firstEnv(EnvDBPath, EnvDBPathAlias); v != "" {
		cfg.Database.Path = v
	}

	if cfg.Database.Type != DBTypeMemory && cfg.Database.Type != DBTypeSQLite {
		return cfg, fmt.Errorf("unknown database type %q", cfg.Database.Type)
	}
	return cfg, nil
}

// PathFromEnv resolves the config file path from CONFIG_PATH
func PathFromEnv() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultPath
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// Duration helpers: the JSON file stores seconds

func (c TaskAssignmentConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Second
}

func (c WorkerManagementConfig) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Second
}

func (c WorkerManagementConfig) HeartbeatTimeoutDuration() time.Duration {
	return time.Duration(c.HeartbeatTimeout) * time.Second
}

func (c WorkerManagementConfig) OfflineThresholdDuration() time.Duration {
	return time.Duration(c.OfflineThreshold) * time.Second
}
