package knnquery

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/hupe1980/knnquery/internal/filter"
	"github.com/hupe1980/knnquery/internal/weight"
)

// EnvPrefix is the environment variable prefix read by LoadConfigFromEnv.
const EnvPrefix = "KNN"

// Config is the file and environment form of the Searcher options.
type Config struct {
	BatchThreshold               int    `toml:"batch_threshold" envconfig:"BATCH_THRESHOLD" default:"2000000"`
	MaxDistanceComputations      int    `toml:"max_distance_computations" envconfig:"MAX_DISTANCE_COMPUTATIONS" default:"2048000"`
	FilteredExactSearchThreshold int    `toml:"filtered_exact_search_threshold" envconfig:"FILTERED_EXACT_SEARCH_THRESHOLD" default:"-1"`
	ShardLevelRescoringDisabled  bool   `toml:"shard_level_rescoring_disabled" envconfig:"SHARD_LEVEL_RESCORING_DISABLED"`
	MaxConcurrency               int    `toml:"max_concurrency" envconfig:"MAX_CONCURRENCY"`
	ExactSearchPartitions        int    `toml:"exact_search_partitions" envconfig:"EXACT_SEARCH_PARTITIONS"`
	MinDocsPerPartition          int    `toml:"min_docs_per_partition" envconfig:"MIN_DOCS_PER_PARTITION"`
	LogLevel                     string `toml:"log_level" envconfig:"LOG_LEVEL"`

	Cache CacheConfig `toml:"cache" envconfig:"CACHE"`
}

// CacheConfig configures the native index cache.
type CacheConfig struct {
	// CapacityBytes bounds the loaded indexes. 0 is unbounded.
	CapacityBytes int64 `toml:"capacity_bytes" envconfig:"CAPACITY_BYTES"`
	// MemoryLimitBytes is the hard memory limit for admission. 0 only tracks.
	MemoryLimitBytes   int64 `toml:"memory_limit_bytes" envconfig:"MEMORY_LIMIT_BYTES"`
	IOBytesPerSecond   int64 `toml:"io_bytes_per_second" envconfig:"IO_BYTES_PER_SECOND"`
	MaxConcurrentLoads int64 `toml:"max_concurrent_loads" envconfig:"MAX_CONCURRENT_LOADS"`
	Shards             int   `toml:"shards" envconfig:"SHARDS"`
}

// DefaultConfig returns the configuration matching the Searcher defaults.
func DefaultConfig() Config {
	return Config{
		BatchThreshold:               filter.DefaultBatchThreshold,
		MaxDistanceComputations:      weight.DefaultMaxDistanceComputations,
		FilteredExactSearchThreshold: weight.ThresholdUnset,
	}
}

// LoadConfigFile reads a TOML file over DefaultConfig.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// LoadConfigFromEnv reads KNN_* environment variables, e.g.
// KNN_FILTERED_EXACT_SEARCH_THRESHOLD or KNN_CACHE_CAPACITY_BYTES.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config from env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.BatchThreshold < 0 {
		return fmt.Errorf("%w: batch_threshold must not be negative", ErrInvalidArgument)
	}
	if c.MaxDistanceComputations < 0 {
		return fmt.Errorf("%w: max_distance_computations must not be negative", ErrInvalidArgument)
	}
	if c.Cache.CapacityBytes < 0 || c.Cache.MemoryLimitBytes < 0 || c.Cache.IOBytesPerSecond < 0 {
		return fmt.Errorf("%w: cache limits must not be negative", ErrInvalidArgument)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalidArgument, s)
	}
	return level, nil
}

// Options converts the configuration into Searcher options.
// A configured log level installs a text logger.
func (c Config) Options() []Option {
	opts := []Option{
		WithBatchThreshold(c.BatchThreshold),
		WithMaxDistanceComputations(c.MaxDistanceComputations),
		WithFilteredExactSearchThreshold(c.FilteredExactSearchThreshold),
		WithShardLevelRescoringDisabled(c.ShardLevelRescoringDisabled),
		WithMaxConcurrency(c.MaxConcurrency),
		WithExactSearchPartitions(c.ExactSearchPartitions, c.MinDocsPerPartition),
	}
	if c.LogLevel != "" {
		if level, err := parseLevel(c.LogLevel); err == nil {
			opts = append(opts, WithLogLevel(level))
		}
	}
	return opts
}
