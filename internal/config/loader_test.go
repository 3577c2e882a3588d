package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COGSTREAM_CONFIG_FILE", "")
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 1024, cfg.Embedding.Dimensions)
	require.Equal(t, 8, cfg.Embedding.ConcurrencyK)
	require.Equal(t, "anthropic", cfg.LLMProvider)
	require.Equal(t, 0.6, cfg.Retrieval.DocThreshold)
	require.Equal(t, 60, cfg.Retrieval.RRFK)
	require.False(t, cfg.Kafka.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	os.Clearenv()
	t.Setenv("EMBEDDING_DIMENSIONS", "2048")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("RETRIEVAL_ALPHA", "0.75")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 2048, cfg.Embedding.Dimensions)
	require.Equal(t, "openai", cfg.LLMProvider)
	require.True(t, cfg.Kafka.Enabled)
	require.Equal(t, 0.75, cfg.Retrieval.Alpha)
}
