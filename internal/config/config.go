// Package config loads PipelineConfig from YAML with environment variable
// overrides via github.com/spf13/viper, covering every field the indexing
// and merge pipelines, metastore, and storage adapters need.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shardwell/shardwell/internal/docmapper"
	"github.com/shardwell/shardwell/internal/indexing"
	"github.com/shardwell/shardwell/internal/merge"
	"github.com/shardwell/shardwell/internal/pipeline"
)

// SourceConfig names one ingest source and its kind-specific settings.
type SourceConfig struct {
	SourceID  string `mapstructure:"source_id"`
	Kind      string `mapstructure:"kind"` // file, stdin, queue, memory
	Path      string `mapstructure:"path"`
	BatchSize int    `mapstructure:"batch_size"`
}

// DocMapperConfig configures the Default doc mapper's field schema.
type DocMapperConfig struct {
	TimestampField  string   `mapstructure:"timestamp_field"`
	PartitionFields []string `mapstructure:"partition_fields"`
	TagFields       []string `mapstructure:"tag_fields"`
	MaxNumPartitions int     `mapstructure:"max_num_partitions"`
}

// Config is the full configuration surface for one shardwell-indexer
// process: one index, one or more sources, plus the shared metastore,
// storage, commit, upload, merge, restart, and scratch settings.
type Config struct {
	IndexUID  string `mapstructure:"index_uid"`
	IndexURI  string `mapstructure:"index_uri"`
	NodeID    string `mapstructure:"node_id"`

	MetastoreURI string `mapstructure:"metastore_uri"` // bolt:///path or memory://
	ScratchDir   string `mapstructure:"scratch_dir"`

	Sources  []SourceConfig  `mapstructure:"sources"`
	DocMapper DocMapperConfig `mapstructure:"doc_mapper"`

	CommitNumDocsThreshold uint64        `mapstructure:"commit_num_docs_threshold"`
	CommitSizeThresholdMB  uint64        `mapstructure:"commit_size_threshold_mb"`
	CommitTimeout          time.Duration `mapstructure:"commit_timeout"`

	MaxConcurrentUploads int   `mapstructure:"max_concurrent_uploads"`
	MultipartThresholdMB int64 `mapstructure:"multipart_threshold_mb"`

	MergeFactor         int           `mapstructure:"merge_factor"`
	MaxMergeFactor      int           `mapstructure:"max_merge_factor"`
	SplitNumDocsTarget  uint64        `mapstructure:"split_num_docs_target"`
	MaturationPeriod    time.Duration `mapstructure:"maturation_period"`
	MaxConcurrentMerges int           `mapstructure:"max_concurrent_merges"`

	MaxRestartAttempts   int           `mapstructure:"max_restart_attempts"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`

	LogLevel string `mapstructure:"log_level"`
}

// defaults mirrors the configuration surface's stated defaults, applied
// before the config file and environment are read.
func defaults(v *viper.Viper) {
	v.SetDefault("node_id", "node-1")
	v.SetDefault("metastore_uri", "memory://")
	v.SetDefault("scratch_dir", "/var/lib/shardwell/scratch")

	v.SetDefault("commit_num_docs_threshold", 10_000_000)
	v.SetDefault("commit_size_threshold_mb", 5*1024)
	v.SetDefault("commit_timeout", "60s")

	v.SetDefault("max_concurrent_uploads", 8)
	v.SetDefault("multipart_threshold_mb", 128)

	v.SetDefault("merge_factor", 10)
	v.SetDefault("max_merge_factor", 12)
	v.SetDefault("split_num_docs_target", 10_000_000)
	v.SetDefault("maturation_period", "2h")
	v.SetDefault("max_concurrent_merges", 2)

	v.SetDefault("max_restart_attempts", 8)
	v.SetDefault("heartbeat_interval", "3s")

	v.SetDefault("log_level", "info")
}

// Load reads configuration from path (if non-empty), merging in
// SHARDWELL_-prefixed environment variable overrides (e.g.
// SHARDWELL_COMMIT_TIMEOUT overrides commit_timeout).
func Load(path string) (Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("shardwell")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// index_uid has no default, so Unmarshal only sees its env override once
	// the key is bound explicitly.
	_ = v.BindEnv("index_uid")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.IndexUID == "" {
		return Config{}, fmt.Errorf("config: index_uid is required")
	}
	return cfg, nil
}

// CommitPolicy converts the commit-related fields to indexing.CommitPolicy.
func (c Config) CommitPolicy() indexing.CommitPolicy {
	return indexing.CommitPolicy{
		NumDocsThreshold: c.CommitNumDocsThreshold,
		SizeThreshold:    c.CommitSizeThresholdMB << 20,
		Timeout:          c.CommitTimeout,
	}
}

// UploaderConfig converts the upload-related fields to indexing.UploaderConfig.
func (c Config) UploaderConfig() indexing.UploaderConfig {
	return indexing.UploaderConfig{
		MaxConcurrentUploads: c.MaxConcurrentUploads,
		MultipartThreshold:    c.MultipartThresholdMB << 20,
	}
}

// MergePolicy converts the merge-related fields to merge.Policy.
func (c Config) MergePolicy() merge.Policy {
	return merge.Policy{
		MergeFactor:         c.MergeFactor,
		MaxMergeFactor:      c.MaxMergeFactor,
		SplitNumDocsTarget:  c.SplitNumDocsTarget,
		MaturationPeriod:    c.MaturationPeriod,
		MaxConcurrentMerges: c.MaxConcurrentMerges,
	}
}

// SupervisorConfig converts the restart-related fields to
// pipeline.SupervisorConfig, keeping the default backoff bounds and rate
// limit (not currently exposed as separate knobs).
func (c Config) SupervisorConfig() pipeline.SupervisorConfig {
	cfg := pipeline.DefaultSupervisorConfig()
	cfg.MaxRestartAttempts = c.MaxRestartAttempts
	return cfg
}

// DocMapperSchema converts the doc-mapper fields to docmapper.Schema.
func (c Config) DocMapperSchema() docmapper.Schema {
	return docmapper.Schema{
		TimestampField:  c.DocMapper.TimestampField,
		PartitionFields: c.DocMapper.PartitionFields,
		TagFields:       c.DocMapper.TagFields,
	}
}

// DocProcessorConfig converts the doc-mapper fields to indexing.DocProcessorConfig.
func (c Config) DocProcessorConfig() indexing.DocProcessorConfig {
	return indexing.DocProcessorConfig{MaxNumPartitions: c.DocMapper.MaxNumPartitions}
}
