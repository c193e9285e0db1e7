package config

// Config is the full configuration for the memory subsystem, loaded from
// config.toml with environment overrides. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Storage      StorageConfig      `mapstructure:"storage"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Retrieval    RetrievalConfig    `mapstructure:"retrieval"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
	Compression  CompressionConfig  `mapstructure:"compression"`
	Promotion    PromotionConfig    `mapstructure:"promotion"`
	Conversation ConversationConfig `mapstructure:"conversation"`
}

// StorageConfig holds the SQLite database location.
type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LLMConfig holds settings for the generation endpoint used by the
// compression engine.
type LLMConfig struct {
	Target         string `mapstructure:"target"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RetrievalConfig holds ranking cache settings.
type RetrievalConfig struct {
	CacheMaxEntries int `mapstructure:"cache_max_entries"`
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

// JobsConfig holds background job queue settings.
type JobsConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// CompressionConfig holds conversation compression trigger settings.
type CompressionConfig struct {
	MessageThreshold int `mapstructure:"message_threshold"`
	DeferSeconds     int `mapstructure:"defer_seconds"`
}

// PromotionConfig holds the periodic promotion sweep settings.
type PromotionConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	IntervalSeconds int     `mapstructure:"interval_seconds"`
	MinAccessCount  int     `mapstructure:"min_access_count"`
	MinRelevance    float64 `mapstructure:"min_relevance"`
	MinAgeDays      float64 `mapstructure:"min_age_days"`
	BatchSize       int     `mapstructure:"batch_size"`
	Consolidate     bool    `mapstructure:"consolidate"`
}

// ConversationConfig holds conversation manager settings.
type ConversationConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}
