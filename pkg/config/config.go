// Package config loads tracker server configuration from an optional YAML
// file with TRACKER_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DatabaseConfig selects the entity/ACL/counter database.
type DatabaseConfig struct {
	// Type is postgres, mysql or sqlite.
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// BlobConfig selects the file storage backend.
type BlobConfig struct {
	// Backend is minio or memory. The memory backend is for local
	// development only; nothing survives a restart.
	Backend   string `mapstructure:"backend"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"accessKey"`
	SecretKey string `mapstructure:"secretKey"`
	UseSSL    bool   `mapstructure:"useSSL"`
	// ChunkSize is the multipart upload part size in bytes.
	ChunkSize int64 `mapstructure:"chunkSize"`
}

// Config is the tracker server configuration.
type Config struct {
	Listen   string         `mapstructure:"listen"`
	Database DatabaseConfig `mapstructure:"database"`
	Blob     BlobConfig     `mapstructure:"blob"`
}

// Load reads configuration from path (optional; empty path uses defaults
// and environment only). Environment variables use the TRACKER_ prefix
// with underscores, e.g. TRACKER_DATABASE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen", ":8080")
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "tracker.db")
	v.SetDefault("blob.backend", "memory")
	v.SetDefault("blob.useSSL", false)
	v.SetDefault("blob.chunkSize", 8<<20)

	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	switch cfg.Database.Type {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unknown database type %q (expected postgres, mysql or sqlite)", cfg.Database.Type)
	}
	switch cfg.Blob.Backend {
	case "minio":
		if cfg.Blob.Endpoint == "" {
			return nil, fmt.Errorf("blob backend minio requires an endpoint")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unknown blob backend %q (expected minio or memory)", cfg.Blob.Backend)
	}

	return &cfg, nil
}
