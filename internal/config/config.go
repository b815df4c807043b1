// Package config loads and validates the vstorage node configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level node configuration, serialized as kebab-case YAML.
type Config struct {
	Node       Node       `yaml:"node"`
	Interfaces Interfaces `yaml:"interfaces"`
	DB         DB         `yaml:"db"`
	Storage    Storage    `yaml:"storage"`
}

// Node identifies this server instance.
type Node struct {
	Name         string `yaml:"nodename"`
	Zone         string `yaml:"zone"`
	WorkDir      string `yaml:"work-dir"`
	PIDFile      string `yaml:"pid-file"`
	LoggerConfig string `yaml:"logger-config"`
}

// Endpoint is a lan/wan address pair for a single transport.
type Endpoint struct {
	LAN string `yaml:"lan"`
	WAN string `yaml:"wan,omitempty"`
}

// Interfaces configures the REST and gRPC listeners.
type Interfaces struct {
	REST Endpoint `yaml:"rest"`
	GRPC Endpoint `yaml:"grpc"`
}

// DB configures the embedded metadata store.
type DB struct {
	MetaDBPath                string `yaml:"meta-db-path"`
	MetaDBBackupPath          string `yaml:"meta-db-backup-path"`
	SizeCalculationIntervalMn int    `yaml:"size-calculation-interval-min"`
}

// Storage configures block placement and lifecycle limits.
type Storage struct {
	BlockSizeLimitBytes    int64    `yaml:"block-size-limit-bytes"`
	BucketSizeLimitBytes   int64    `yaml:"bucket-size-limit-bytes"`
	Volumes                []string `yaml:"volumes"`
	GCTimeoutSec           int      `yaml:"gc-timeout-sec"`
	GCBatch                int      `yaml:"gc-batch"`
	BlockCheckIntervalDays int      `yaml:"block-check-interval-days"`
}

// Default returns the configuration used when no file is supplied,
// matching the original node's factory defaults field for field.
func Default() *Config {
	return &Config{
		Node: Node{
			Name:         "dev1",
			Zone:         "default",
			WorkDir:      "./info/temp",
			PIDFile:      "/tmp/vstorage.pid",
			LoggerConfig: "vstorage-logger.yml",
		},
		Interfaces: Interfaces{
			REST: Endpoint{LAN: "127.0.0.1:33088"},
			GRPC: Endpoint{LAN: "127.0.0.1:33087"},
		},
		DB: DB{
			MetaDBPath:                "./info/meta",
			MetaDBBackupPath:          "./info/meta_backup",
			SizeCalculationIntervalMn: 60,
		},
		Storage: Storage{
			BlockSizeLimitBytes:    10 * 1024 * 1024,
			BucketSizeLimitBytes:   1024 * 1024 * 1024,
			Volumes:                []string{"./info/data"},
			GCTimeoutSec:           1,
			GCBatch:                1000,
			BlockCheckIntervalDays: 7,
		},
	}
}

// Load reads and parses a YAML config file, filling any zero-valued
// fields with defaults is intentionally NOT done here: the file is
// expected to be complete. Use Default() for a starting template.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate performs the critical sanity checks the original left as a
// stub (`check_critical_params`); the rewrite fills them in rather than
// shipping the no-op.
func (c *Config) Validate() error {
	if len(c.Storage.Volumes) == 0 {
		return fmt.Errorf("storage.volumes must list at least one path")
	}
	if c.Storage.BlockSizeLimitBytes <= 0 {
		return fmt.Errorf("storage.block-size-limit-bytes must be positive")
	}
	if c.Storage.BucketSizeLimitBytes <= 0 {
		return fmt.Errorf("storage.bucket-size-limit-bytes must be positive")
	}
	if c.DB.MetaDBPath == "" {
		return fmt.Errorf("db.meta-db-path is required")
	}
	return nil
}

// WriteSample serializes the default configuration as YAML, the backing
// implementation for `--print-sample-config`.
func WriteSample() (string, error) {
	out, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshal sample config: %w", err)
	}
	return string(out), nil
}
