package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads config.toml from configDir
// (if non-empty, otherwise the working directory), and binds environment
// variables with the BRUNOMEM_ prefix.
//
// Config precedence (highest to lowest):
//  1. Environment variables (BRUNOMEM_STORAGE_SQLITE_PATH, etc.)
//  2. config.toml file values
//  3. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	} else {
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("BRUNOMEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// Load resolves the final Config from an initialized viper instance.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)

	v.SetDefault("llm.target", d.LLM.Target)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.timeout_seconds", d.LLM.TimeoutSeconds)

	v.SetDefault("retrieval.cache_max_entries", d.Retrieval.CacheMaxEntries)
	v.SetDefault("retrieval.cache_ttl_seconds", d.Retrieval.CacheTTLSeconds)

	v.SetDefault("jobs.workers", d.Jobs.Workers)
	v.SetDefault("jobs.queue_size", d.Jobs.QueueSize)

	v.SetDefault("compression.message_threshold", d.Compression.MessageThreshold)
	v.SetDefault("compression.defer_seconds", d.Compression.DeferSeconds)

	v.SetDefault("promotion.enabled", d.Promotion.Enabled)
	v.SetDefault("promotion.interval_seconds", d.Promotion.IntervalSeconds)
	v.SetDefault("promotion.min_access_count", d.Promotion.MinAccessCount)
	v.SetDefault("promotion.min_relevance", d.Promotion.MinRelevance)
	v.SetDefault("promotion.min_age_days", d.Promotion.MinAgeDays)
	v.SetDefault("promotion.batch_size", d.Promotion.BatchSize)
	v.SetDefault("promotion.consolidate", d.Promotion.Consolidate)

	v.SetDefault("conversation.buffer_size", d.Conversation.BufferSize)
}
