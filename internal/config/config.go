package config

import "time"

// EmbeddingConfig configures the C1 embedding client.
type EmbeddingConfig struct {
	Host          string        `yaml:"host"`
	APIKey        string        `yaml:"api_key"`
	APIHeader     string        `yaml:"api_header"`
	Model         string        `yaml:"model"`
	Dimensions    int           `yaml:"dimensions"`
	Timeout       time.Duration `yaml:"-"`
	TimeoutSecs   int           `yaml:"timeout_seconds"`
	ConcurrencyK  int           `yaml:"concurrency"`
	RPM           int           `yaml:"rpm"`
	CacheSize     int           `yaml:"cache_size"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

// PostgresConfig configures a pgx pool.
type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	MaxConns    int    `yaml:"max_conns"`
	MinConns    int    `yaml:"min_conns"`
}

// QdrantConfig configures the alternate dense vector backend.
type QdrantConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Metric     string `yaml:"metric"`
}

// BleveConfig configures the keyword/BM25-style index.
type BleveConfig struct {
	IndexPath string `yaml:"index_path"` // empty = in-memory
}

// SQLiteConfig configures the embeddable session-store backend used for
// local/dev/test runs.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// AnthropicPromptCacheConfig controls Anthropic prompt-cache breakpoints.
// When Enabled is true but no scope flag is set, the client defaults to
// caching the system block, tool definitions, and message history.
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cache_system"`
	CacheTools    bool `yaml:"cache_tools"`
	CacheMessages bool `yaml:"cache_messages"`
}

// AnthropicConfig configures the primary streaming LLM provider.
type AnthropicConfig struct {
	APIKey      string                     `yaml:"api_key"`
	Model       string                     `yaml:"model"`
	BaseURL     string                     `yaml:"base_url"`
	PromptCache AnthropicPromptCacheConfig `yaml:"prompt_cache"`
}

// OpenAIConfig configures the secondary streaming LLM provider.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// KafkaConfig configures the optional post-ingest event fan-out (§4.5).
type KafkaConfig struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

// AuthGateConfig configures C9's scoped-credential verification.
type AuthGateConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TransportConfig configures the C8 WebSocket server.
type TransportConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	SendBufferSize   int           `yaml:"send_buffer_size"`
	SlowConsumerWait time.Duration `yaml:"-"`
	SlowConsumerSecs int           `yaml:"slow_consumer_seconds"`
	QueueOnBusy      bool          `yaml:"queue_on_busy"`
}

// IngestConfig configures the C5 memory-ingest pipeline.
type IngestConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	BatchTimeout    time.Duration `yaml:"-"`
	BatchTimeoutSec int           `yaml:"batch_timeout_seconds"`
}

// RetrievalConfig configures the C4 dual retriever's default knobs; a
// Registry entry may override these per tenant.
type RetrievalConfig struct {
	ProcessTopK     int     `yaml:"process_top_k"`
	EpisodicTopK    int     `yaml:"episodic_top_k"`
	ProcessFloor    float64 `yaml:"process_floor"`
	SessionFloor    float64 `yaml:"session_floor"`
	DocThreshold    float64 `yaml:"doc_threshold"`
	RRFK            int     `yaml:"rrf_k"`
	Alpha           float64 `yaml:"alpha"`
}

// TelemetryConfig controls OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// Config is the process-wide immutable config object, loaded once at
// startup (C10). Nothing in the repo mutates it after Load returns.
type Config struct {
	LogPath   string `yaml:"log_path"`
	LogLevel  string `yaml:"log_level"`

	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Bleve      BleveConfig      `yaml:"bleve"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	AuthGate   AuthGateConfig   `yaml:"auth_gate"`
	Transport  TransportConfig  `yaml:"transport"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	OTel       TelemetryConfig  `yaml:"otel"`

	// LLMProvider selects which configured provider backs the engine's
	// streaming calls: "anthropic" or "openai".
	LLMProvider string `yaml:"llm_provider"`
}
