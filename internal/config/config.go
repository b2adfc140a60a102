package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/mapread/internal/resource"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Directories searched for grammar and schema resources before the
	// embedded copies.
	SchemaSearchPath []string

	// Worker pool
	WorkerCount        int
	MaxQueueSize       int
	MaxConcurrentReads int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration
}

// fileConfig is the YAML overlay named by MAPREAD_CONFIG. Zero values leave
// the default in place.
type fileConfig struct {
	Port               string   `yaml:"port"`
	APIKey             string   `yaml:"api_key"`
	SchemaSearchPath   []string `yaml:"schema_search_path"`
	WorkerCount        int      `yaml:"worker_count"`
	MaxQueueSize       int      `yaml:"max_queue_size"`
	MaxConcurrentReads int      `yaml:"max_concurrent_reads"`
	MaxUploadBytes     int64    `yaml:"max_upload_bytes"`
	JobTTL             string   `yaml:"job_ttl"`
}

const defaultMaxUploadBytes = 10 << 20

func defaults() Config {
	return Config{
		Port:               "8090",
		WorkerCount:        4,
		MaxQueueSize:       100,
		MaxConcurrentReads: 8,
		MaxUploadBytes:     defaultMaxUploadBytes,
		JobTTL:             1 * time.Hour,
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by MAPREAD_CONFIG and then the environment, in that order of precedence.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("MAPREAD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.overlay(data); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.APIKey = envOr("MAPREAD_API_KEY", cfg.APIKey)
	if v := os.Getenv("SCHEMA_SEARCH_PATH"); v != "" {
		cfg.SchemaSearchPath = resource.SplitPathList(v)
	}
	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.MaxConcurrentReads = envInt("MAX_CONCURRENT_READS", cfg.MaxConcurrentReads)
	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.JobTTL = envDuration("JOB_TTL", cfg.JobTTL)

	cfg.clamp()
	return cfg, nil
}

func (c *Config) overlay(data []byte) error {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	if fc.Port != "" {
		c.Port = fc.Port
	}
	if fc.APIKey != "" {
		c.APIKey = fc.APIKey
	}
	if len(fc.SchemaSearchPath) > 0 {
		c.SchemaSearchPath = fc.SchemaSearchPath
	}
	if fc.WorkerCount != 0 {
		c.WorkerCount = fc.WorkerCount
	}
	if fc.MaxQueueSize != 0 {
		c.MaxQueueSize = fc.MaxQueueSize
	}
	if fc.MaxConcurrentReads != 0 {
		c.MaxConcurrentReads = fc.MaxConcurrentReads
	}
	if fc.MaxUploadBytes != 0 {
		c.MaxUploadBytes = fc.MaxUploadBytes
	}
	if fc.JobTTL != "" {
		d, err := time.ParseDuration(fc.JobTTL)
		if err != nil {
			return fmt.Errorf("job_ttl: %w", err)
		}
		c.JobTTL = d
	}
	return nil
}

func (c *Config) clamp() {
	d := defaults()
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.MaxConcurrentReads <= 0 {
		c.MaxConcurrentReads = d.MaxConcurrentReads
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
	if c.JobTTL <= 0 {
		c.JobTTL = d.JobTTL
	}
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("MAPREAD_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
