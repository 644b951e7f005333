// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/ragindex/ai"
	"github.com/poiesic/ragindex/chunking"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by ApplyEnv.
const EnvPrefix = "RAGINDEX_"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// StorageConfig locates the three persistence roots. Relative paths are
// resolved against Config.DataDir.
type StorageConfig struct {
	LedgerDir   string        `yaml:"ledger_dir"`
	IndexDir    string        `yaml:"index_dir"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// ChunkingConfig sets the word window used to split documents.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// EmbeddingConfig configures the OpenAI-compatible embedding service.
type EmbeddingConfig struct {
	Host      string        `yaml:"host"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	APIKey    string        `yaml:"api_key"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CommandConfig registers an external converter for some MIME types. Args may
// use {input} and {output}; the converter writes one text file per page into
// the output directory.
type CommandConfig struct {
	MimeTypes []string `yaml:"mime_types"`
	Path      string   `yaml:"path"`
	Args      []string `yaml:"args"`
}

// PipelineConfig tunes document processing.
type PipelineConfig struct {
	PoolSize           int           `yaml:"pool_size"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	IndexRetryAttempts int           `yaml:"index_retry_attempts"`
	IndexRetryDelay    time.Duration `yaml:"index_retry_delay"`
}

// Config is the root application configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Storage   StorageConfig   `yaml:"storage"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Commands  []CommandConfig `yaml:"commands,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		DataDir: ".ragindex",
		Storage: StorageConfig{
			LedgerDir:   "ledger",
			IndexDir:    "index",
			LockTimeout: 10 * time.Second,
		},
		Chunking: ChunkingConfig{Size: chunking.DefaultSize, Overlap: chunking.DefaultOverlap},
		Embedding: EmbeddingConfig{
			Host:      aiDefaults.EmbeddingHost,
			Model:     aiDefaults.EmbeddingModel,
			Dimension: aiDefaults.Dimension,
			APIKey:    aiDefaults.APIKey,
			BatchSize: aiDefaults.BatchSize,
			Timeout:   60 * time.Second,
		},
		Cache: CacheConfig{Enabled: true, Path: "cache.db"},
		Pipeline: PipelineConfig{
			PoolSize:           4,
			StaleAfter:         30 * time.Minute,
			IndexRetryAttempts: 5,
			IndexRetryDelay:    200 * time.Millisecond,
		},
	}
}

// Load reads a config from path on top of the defaults. Keys absent from the
// file keep their default values. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadEnv loads the given .env files (".env" when none are named) into the
// process environment, then applies RAGINDEX_* variables to cfg. Missing
// files are ignored. Variables already set in the environment win over
// values from the files.
func LoadEnv(cfg *Config, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return ApplyEnv(cfg)
}

type envBinding struct {
	name string
	set  func(cfg *Config, value string) error
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

func durationVar(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(cfg) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"DATA_DIR", stringVar(func(c *Config) *string { return &c.DataDir })},
	{"LEDGER_DIR", stringVar(func(c *Config) *string { return &c.Storage.LedgerDir })},
	{"INDEX_DIR", stringVar(func(c *Config) *string { return &c.Storage.IndexDir })},
	{"LOCK_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Storage.LockTimeout })},
	{"CHUNK_SIZE", intVar(func(c *Config) *int { return &c.Chunking.Size })},
	{"CHUNK_OVERLAP", intVar(func(c *Config) *int { return &c.Chunking.Overlap })},
	{"EMBEDDING_HOST", stringVar(func(c *Config) *string { return &c.Embedding.Host })},
	{"EMBEDDING_MODEL", stringVar(func(c *Config) *string { return &c.Embedding.Model })},
	{"EMBEDDING_DIMENSION", intVar(func(c *Config) *int { return &c.Embedding.Dimension })},
	{"EMBEDDING_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Embedding.Timeout })},
	{"API_KEY", stringVar(func(c *Config) *string { return &c.Embedding.APIKey })},
	{"CACHE_PATH", stringVar(func(c *Config) *string { return &c.Cache.Path })},
	{"CACHE_ENABLED", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Cache.Enabled = b
		return nil
	}},
	{"POOL_SIZE", intVar(func(c *Config) *int { return &c.Pipeline.PoolSize })},
	{"STALE_AFTER", durationVar(func(c *Config) *time.Duration { return &c.Pipeline.StaleAfter })},
}

// ApplyEnv overrides cfg with any RAGINDEX_* variables present in the environment.
func ApplyEnv(cfg *Config) error {
	for _, b := range envBindings {
		v, ok := os.LookupEnv(EnvPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %w", ErrInvalidConfig, EnvPrefix, b.name, v, err)
		}
	}
	return nil
}

// Validate checks that the configuration can open an index.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "" && (!filepath.IsAbs(c.Storage.LedgerDir) || !filepath.IsAbs(c.Storage.IndexDir)):
		return fmt.Errorf("%w: data_dir is required for relative storage paths", ErrInvalidConfig)
	case c.Storage.LedgerDir == "":
		return fmt.Errorf("%w: storage.ledger_dir is required", ErrInvalidConfig)
	case c.Storage.IndexDir == "":
		return fmt.Errorf("%w: storage.index_dir is required", ErrInvalidConfig)
	case c.Cache.Enabled && c.Cache.Path == "":
		return fmt.Errorf("%w: cache.path is required when the cache is enabled", ErrInvalidConfig)
	case c.Chunking.Size < 1:
		return fmt.Errorf("%w: chunking.size must be positive", ErrInvalidConfig)
	case c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size:
		return fmt.Errorf("%w: chunking.overlap must be in [0, size)", ErrInvalidConfig)
	case c.Embedding.Dimension < 1:
		return fmt.Errorf("%w: embedding.dimension must be positive", ErrInvalidConfig)
	case c.Embedding.Timeout <= 0:
		return fmt.Errorf("%w: embedding.timeout must be positive", ErrInvalidConfig)
	case c.Storage.LockTimeout <= 0:
		return fmt.Errorf("%w: storage.lock_timeout must be positive", ErrInvalidConfig)
	case c.Pipeline.PoolSize < 1:
		return fmt.Errorf("%w: pipeline.pool_size must be positive", ErrInvalidConfig)
	case c.Pipeline.StaleAfter <= 0:
		return fmt.Errorf("%w: pipeline.stale_after must be positive", ErrInvalidConfig)
	case c.Pipeline.IndexRetryAttempts < 1:
		return fmt.Errorf("%w: pipeline.index_retry_attempts must be positive", ErrInvalidConfig)
	}
	for i, cmd := range c.Commands {
		if cmd.Path == "" {
			return fmt.Errorf("%w: commands[%d].path is required", ErrInvalidConfig, i)
		}
	}
	if err := c.AIConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LedgerPath returns the resolved ledger directory.
func (c *Config) LedgerPath() string { return c.resolve(c.Storage.LedgerDir) }

// IndexPath returns the resolved vector store directory.
func (c *Config) IndexPath() string { return c.resolve(c.Storage.IndexDir) }

// CachePath returns the resolved cache database file.
func (c *Config) CachePath() string { return c.resolve(c.Cache.Path) }

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// AIConfig converts the embedding section into an ai.Config.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.Embedding.Host),
		ai.WithEmbeddingModel(c.Embedding.Model),
		ai.WithDimension(c.Embedding.Dimension),
		ai.WithAPIKey(c.Embedding.APIKey),
		ai.WithBatchSize(c.Embedding.BatchSize),
	)
}
