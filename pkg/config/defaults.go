package config

const (
	defaultSQLitePath = "memory.db"

	// Ollama's OpenAI-compatible API lives under /v1; the client appends
	// /chat/completions to this base.
	defaultLLMTarget  = "http://localhost:11434/v1"
	defaultLLMModel   = "llama3.2"
	defaultLLMTimeout = 30

	defaultCacheMaxEntries = 100
	defaultCacheTTLSeconds = 300

	defaultWorkers   = 2
	defaultQueueSize = 100

	defaultMessageThreshold = 50
	defaultDeferSeconds     = 30

	defaultPromotionInterval = 300
	defaultMinAccessCount    = 3
	defaultMinRelevance      = 0.8
	defaultMinAgeDays        = 3.0
	defaultPromotionBatch    = 10

	defaultBufferSize = 20
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			SQLitePath: defaultSQLitePath,
		},
		LLM: LLMConfig{
			Target:         defaultLLMTarget,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeout,
		},
		Retrieval: RetrievalConfig{
			CacheMaxEntries: defaultCacheMaxEntries,
			CacheTTLSeconds: defaultCacheTTLSeconds,
		},
		Jobs: JobsConfig{
			Workers:   defaultWorkers,
			QueueSize: defaultQueueSize,
		},
		Compression: CompressionConfig{
			MessageThreshold: defaultMessageThreshold,
			DeferSeconds:     defaultDeferSeconds,
		},
		Promotion: PromotionConfig{
			Enabled:         true,
			IntervalSeconds: defaultPromotionInterval,
			MinAccessCount:  defaultMinAccessCount,
			MinRelevance:    defaultMinRelevance,
			MinAgeDays:      defaultMinAgeDays,
			BatchSize:       defaultPromotionBatch,
			Consolidate:     true,
		},
		Conversation: ConversationConfig{
			BufferSize: defaultBufferSize,
		},
	}
}
