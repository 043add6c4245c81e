package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	StorageFile     = "file"
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
	StoragePebble   = "pebble"
	StorageGCS      = "gcs"

	CipherAESGCM   = "aes-gcm"
	CipherXChaCha  = "xchacha20-poly1305"
	defaultChunk   = 8192
	defaultBackups = 3
)

type ProjectConfig struct {
	Project     string           `yaml:"project"`
	Company     string           `yaml:"company"`
	Version     int              `yaml:"version"`
	GameVersion string           `yaml:"game_version"`
	Schema      string           `yaml:"schema"`
	Storage     StorageConfig    `yaml:"storage"`
	Encryption  EncryptionConfig `yaml:"encryption"`
	Backups     BackupConfig     `yaml:"backups"`
	Slots       SlotConfig       `yaml:"slots"`
	LoadOnStart *bool            `yaml:"load_on_start,omitempty"`
	Logging     LoggingConfig    `yaml:"logging"`
}

type StorageConfig struct {
	Type      string `yaml:"type"`
	Path      string `yaml:"path"`
	DSN       string `yaml:"dsn,omitempty"`
	Addr      string `yaml:"addr,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	ChunkSize int    `yaml:"chunk_size,omitempty"`
}

type EncryptionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cipher  string `yaml:"cipher,omitempty"`
	KeyPath string `yaml:"key_path,omitempty"`
}

type BackupConfig struct {
	Capacity *int   `yaml:"capacity,omitempty"`
	Path     string `yaml:"path,omitempty"`
}

type SlotConfig struct {
	Enabled bool `yaml:"enabled"`
	Max     int  `yaml:"max"`
}

type LoggingConfig struct {
	Mode string `yaml:"mode"`
}

func LoadProjectConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateProjectConfig(&cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	return &cfg, nil
}

// WriteProjectConfig persists cfg back to path, used after a storage move.
func WriteProjectConfig(path string, cfg *ProjectConfig) error {
	if err := validateProjectConfig(cfg); err != nil {
		return fmt.Errorf("writing project config: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("writing project config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing project config: %w", err)
	}
	return nil
}

// Validate reports whether c is usable as loaded, without applying defaults.
func (c *ProjectConfig) Validate() error {
	return validateProjectConfig(c)
}

func (c *ProjectConfig) BackupCapacity() int {
	if c.Backups.Capacity == nil {
		return defaultBackups
	}
	return *c.Backups.Capacity
}

func (c *ProjectConfig) ShouldLoadOnStart() bool {
	return c.LoadOnStart == nil || *c.LoadOnStart
}

func applyDefaults(cfg *ProjectConfig) {
	if strings.TrimSpace(cfg.Schema) == "" {
		cfg.Schema = "schema.yaml"
	}
	if strings.TrimSpace(cfg.Storage.Type) == "" {
		cfg.Storage.Type = StorageFile
	}
	cfg.Storage.Type = strings.ToLower(cfg.Storage.Type)
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = "%persistent_data_path%/save.json"
	}
	if cfg.Storage.ChunkSize == 0 {
		cfg.Storage.ChunkSize = defaultChunk
	}
	if cfg.Encryption.Cipher == "" {
		cfg.Encryption.Cipher = CipherAESGCM
	}
	if cfg.Encryption.KeyPath == "" {
		cfg.Encryption.KeyPath = "%persistent_data_path%/save.key"
	}
	if cfg.Backups.Path == "" {
		cfg.Backups.Path = cfg.Storage.Path + ".backups"
	}
	if cfg.Logging.Mode == "" {
		cfg.Logging.Mode = "development"
	}
}

func validateProjectConfig(cfg *ProjectConfig) error {
	if strings.TrimSpace(cfg.Project) == "" {
		return fmt.Errorf("project name is required")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported version: %d", cfg.Version)
	}

	switch cfg.Storage.Type {
	case StorageFile, StorageMemory, StoragePebble:
	case StorageSQLite, StoragePostgres:
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return fmt.Errorf("storage dsn is required for %s", cfg.Storage.Type)
		}
	case StorageRedis:
		if strings.TrimSpace(cfg.Storage.Addr) == "" {
			return fmt.Errorf("storage addr is required for redis")
		}
	case StorageGCS:
		if strings.TrimSpace(cfg.Storage.Bucket) == "" {
			return fmt.Errorf("storage bucket is required for gcs")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if cfg.Storage.ChunkSize < 0 {
		return fmt.Errorf("storage chunk_size must be positive")
	}

	switch strings.ToLower(cfg.Encryption.Cipher) {
	case CipherAESGCM, CipherXChaCha:
	default:
		return fmt.Errorf("unsupported cipher: %s", cfg.Encryption.Cipher)
	}

	if cfg.Backups.Capacity != nil && *cfg.Backups.Capacity < 0 {
		return fmt.Errorf("backup capacity must not be negative")
	}
	if cfg.Slots.Max < 0 {
		return fmt.Errorf("slot max must not be negative")
	}
	if cfg.Backups.Path == cfg.Storage.Path {
		return fmt.Errorf("backup path must differ from storage path")
	}

	return nil
}
