// Package config loads engine configuration from an optional YAML file and
// CONVEYOR_-prefixed environment variables, env taking precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Engine   EngineConfig   `koanf:"engine"`
	Approval ApprovalConfig `koanf:"approval"`
	Health   HealthConfig   `koanf:"health"`
	Notify   NotifyConfig   `koanf:"notify"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// AuthToken, when set, gates the API behind bearer-token auth.
	AuthToken string `koanf:"auth_token"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type EngineConfig struct {
	// WorkDir is where stage commands execute.
	WorkDir string `koanf:"work_dir"`
	// ArtifactDir is the root of the durable artifact area.
	ArtifactDir string `koanf:"artifact_dir"`
	// OutputCapBytes bounds captured stdout/stderr per stream.
	OutputCapBytes int `koanf:"output_cap_bytes"`
	// StageTimeout bounds stages that declare no timeout ("0" = unbounded).
	StageTimeout string `koanf:"stage_timeout"`
}

type ApprovalConfig struct {
	// Timeout bounds manual-approval waits ("0" = wait forever).
	Timeout string `koanf:"timeout"`
}

type HealthConfig struct {
	Timeout  string `koanf:"timeout"`
	Interval string `koanf:"interval"`
}

type NotifyConfig struct {
	URL     string `koanf:"url"`
	Channel string `koanf:"channel"`
	Timeout string `koanf:"timeout"`
	Retries int    `koanf:"retries"`
}

// Load reads configuration. path names an optional YAML file; a missing
// file falls back to environment variables and defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	// Environment overrides: CONVEYOR_SERVER__PORT -> server.port
	if err := k.Load(env.Provider("CONVEYOR_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CONVEYOR_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	defaults := map[string]any{
		"server.port":             8080,
		"storage.type":            "sqlite",
		"storage.sqlite.path":     "./data/conveyor.db",
		"engine.artifact_dir":     "./data/artifacts",
		"engine.output_cap_bytes": 1 << 20,
		"engine.stage_timeout":    "30m",
		"approval.timeout":        "0",
		"health.timeout":          "60s",
		"health.interval":         "2s",
		"notify.timeout":          "10s",
		"notify.retries":          2,
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Duration parses a config duration field, mapping "" and "0" to zero.
func Duration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
