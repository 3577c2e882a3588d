package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file (if COGSTREAM_CONFIG_FILE or
// ./config.yaml exists) and then applies environment-variable overrides, so
// env always wins over the file and the file always wins over zero-values.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}
	if path := firstNonEmpty(strings.TrimSpace(os.Getenv("COGSTREAM_CONFIG_FILE")), "config.yaml"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	cfg.LogPath = firstNonEmpty(os.Getenv("LOG_PATH"), cfg.LogPath)
	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), cfg.LogLevel, "info")

	cfg.Embedding.Host = firstNonEmpty(os.Getenv("EMBEDDING_HOST"), cfg.Embedding.Host)
	cfg.Embedding.APIKey = firstNonEmpty(os.Getenv("EMBEDDING_API_KEY"), cfg.Embedding.APIKey)
	cfg.Embedding.APIHeader = firstNonEmpty(os.Getenv("EMBEDDING_API_HEADER"), cfg.Embedding.APIHeader, "Authorization")
	cfg.Embedding.Model = firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), cfg.Embedding.Model)
	cfg.Embedding.Dimensions = intFromEnv("EMBEDDING_DIMENSIONS", orInt(cfg.Embedding.Dimensions, 1024))
	cfg.Embedding.TimeoutSecs = intFromEnv("EMBEDDING_TIMEOUT_SECONDS", orInt(cfg.Embedding.TimeoutSecs, 30))
	cfg.Embedding.ConcurrencyK = intFromEnv("EMBEDDING_CONCURRENCY", orInt(cfg.Embedding.ConcurrencyK, 8))
	cfg.Embedding.RPM = intFromEnv("EMBEDDING_RPM", orInt(cfg.Embedding.RPM, 600))
	cfg.Embedding.CacheSize = intFromEnv("EMBEDDING_CACHE_SIZE", orInt(cfg.Embedding.CacheSize, 4096))
	cfg.Embedding.RedisAddr = firstNonEmpty(os.Getenv("EMBEDDING_REDIS_ADDR"), cfg.Embedding.RedisAddr)
	cfg.Embedding.RedisPassword = firstNonEmpty(os.Getenv("EMBEDDING_REDIS_PASSWORD"), cfg.Embedding.RedisPassword)
	cfg.Embedding.RedisDB = intFromEnv("EMBEDDING_REDIS_DB", cfg.Embedding.RedisDB)
	cfg.Embedding.Timeout = time.Duration(cfg.Embedding.TimeoutSecs) * time.Second

	cfg.Postgres.DSN = firstNonEmpty(os.Getenv("POSTGRES_DSN"), cfg.Postgres.DSN)
	cfg.Postgres.MaxConns = intFromEnv("POSTGRES_MAX_CONNS", orInt(cfg.Postgres.MaxConns, 20))
	cfg.Postgres.MinConns = intFromEnv("POSTGRES_MIN_CONNS", orInt(cfg.Postgres.MinConns, 2))

	if v := strings.TrimSpace(os.Getenv("QDRANT_ENABLED")); v != "" {
		cfg.Qdrant.Enabled = parseBool(v)
	}
	cfg.Qdrant.DSN = firstNonEmpty(os.Getenv("QDRANT_DSN"), cfg.Qdrant.DSN)
	cfg.Qdrant.Collection = firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), cfg.Qdrant.Collection, "cogstream_exchanges")
	cfg.Qdrant.Metric = firstNonEmpty(os.Getenv("QDRANT_METRIC"), cfg.Qdrant.Metric, "cosine")

	cfg.Bleve.IndexPath = firstNonEmpty(os.Getenv("BLEVE_INDEX_PATH"), cfg.Bleve.IndexPath)
	cfg.SQLite.Path = firstNonEmpty(os.Getenv("SQLITE_PATH"), cfg.SQLite.Path, "cogstream.db")

	cfg.Anthropic.APIKey = firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), cfg.Anthropic.APIKey)
	cfg.Anthropic.Model = firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), cfg.Anthropic.Model, "claude-sonnet-4-5")
	cfg.Anthropic.BaseURL = firstNonEmpty(os.Getenv("ANTHROPIC_BASE_URL"), cfg.Anthropic.BaseURL)
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_PROMPT_CACHE_ENABLED")); v != "" {
		cfg.Anthropic.PromptCache.Enabled = parseBool(v)
	}

	cfg.OpenAI.APIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), cfg.OpenAI.APIKey)
	cfg.OpenAI.Model = firstNonEmpty(os.Getenv("OPENAI_MODEL"), cfg.OpenAI.Model, "gpt-5")
	cfg.OpenAI.BaseURL = firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), cfg.OpenAI.BaseURL)

	cfg.LLMProvider = firstNonEmpty(os.Getenv("LLM_PROVIDER"), cfg.LLMProvider, "anthropic")

	if v := strings.TrimSpace(os.Getenv("KAFKA_ENABLED")); v != "" {
		cfg.Kafka.Enabled = parseBool(v)
	}
	cfg.Kafka.Brokers = firstNonEmpty(os.Getenv("KAFKA_BROKERS"), cfg.Kafka.Brokers)
	cfg.Kafka.Topic = firstNonEmpty(os.Getenv("KAFKA_TOPIC"), cfg.Kafka.Topic, "cogstream.exchanges")

	cfg.AuthGate.JWTSecret = firstNonEmpty(os.Getenv("AUTH_JWT_SECRET"), cfg.AuthGate.JWTSecret)

	cfg.Transport.Host = firstNonEmpty(os.Getenv("TRANSPORT_HOST"), cfg.Transport.Host, "0.0.0.0")
	cfg.Transport.Port = intFromEnv("TRANSPORT_PORT", orInt(cfg.Transport.Port, 8090))
	cfg.Transport.SendBufferSize = intFromEnv("TRANSPORT_SEND_BUFFER", orInt(cfg.Transport.SendBufferSize, 64))
	cfg.Transport.SlowConsumerSecs = intFromEnv("TRANSPORT_SLOW_CONSUMER_SECONDS", orInt(cfg.Transport.SlowConsumerSecs, 5))
	cfg.Transport.SlowConsumerWait = time.Duration(cfg.Transport.SlowConsumerSecs) * time.Second
	if v := strings.TrimSpace(os.Getenv("TRANSPORT_QUEUE_ON_BUSY")); v != "" {
		cfg.Transport.QueueOnBusy = parseBool(v)
	}

	cfg.Ingest.BatchSize = intFromEnv("INGEST_BATCH_SIZE", orInt(cfg.Ingest.BatchSize, 10))
	cfg.Ingest.BatchTimeoutSec = intFromEnv("INGEST_BATCH_TIMEOUT_SECONDS", orInt(cfg.Ingest.BatchTimeoutSec, 5))
	cfg.Ingest.BatchTimeout = time.Duration(cfg.Ingest.BatchTimeoutSec) * time.Second

	cfg.Retrieval.ProcessTopK = intFromEnv("RETRIEVAL_PROCESS_TOP_K", orInt(cfg.Retrieval.ProcessTopK, 10))
	cfg.Retrieval.EpisodicTopK = intFromEnv("RETRIEVAL_EPISODIC_TOP_K", orInt(cfg.Retrieval.EpisodicTopK, 10))
	cfg.Retrieval.ProcessFloor = floatFromEnv("RETRIEVAL_PROCESS_FLOOR", orFloat(cfg.Retrieval.ProcessFloor, 0.5))
	cfg.Retrieval.SessionFloor = floatFromEnv("RETRIEVAL_SESSION_FLOOR", orFloat(cfg.Retrieval.SessionFloor, 0.5))
	cfg.Retrieval.DocThreshold = floatFromEnv("RETRIEVAL_DOC_THRESHOLD", orFloat(cfg.Retrieval.DocThreshold, 0.6))
	cfg.Retrieval.RRFK = intFromEnv("RETRIEVAL_RRF_K", orInt(cfg.Retrieval.RRFK, 60))
	cfg.Retrieval.Alpha = floatFromEnv("RETRIEVAL_ALPHA", orFloat(cfg.Retrieval.Alpha, 0.5))

	if v := strings.TrimSpace(os.Getenv("OTEL_ENABLED")); v != "" {
		cfg.OTel.Enabled = parseBool(v)
	}
	cfg.OTel.Endpoint = firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), cfg.OTel.Endpoint)
	if v := strings.TrimSpace(os.Getenv("OTEL_INSECURE")); v != "" {
		cfg.OTel.Insecure = parseBool(v)
	}
	cfg.OTel.ServiceName = firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), cfg.OTel.ServiceName, "cogstreamd")

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func orFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
