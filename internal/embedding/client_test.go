package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cogstream/internal/config"

	"github.com/stretchr/testify/require"
)

func testConfig(url string) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		Host:         url,
		Model:        "m",
		APIHeader:    "Authorization",
		APIKey:       "secret",
		Dimensions:   3,
		Timeout:      5 * time.Second,
		ConcurrencyK: 2,
		CacheSize:    16,
	}
}

func vectorResponse(vecs ...[]float32) []byte {
	data := make([]map[string]any, len(vecs))
	for i, v := range vecs {
		data[i] = map[string]any{"embedding": v}
	}
	b, _ := json.Marshal(map[string]any{"data": data})
	return b
}

func TestEmbedBatch_AuthorizationHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write(vectorResponse([]float32{3, 4, 0}))
	}))
	defer ts.Close()

	c, err := New(testConfig(ts.URL))
	require.NoError(t, err)

	out, err := c.EmbedBatch(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	// normalized: (3,4,0) -> (0.6,0.8,0)
	require.InDelta(t, 0.6, out[0][0], 1e-6)
	require.InDelta(t, 0.8, out[0][1], 1e-6)
}

func TestEmbedBatch_CacheAvoidsSecondCall(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(vectorResponse([]float32{1, 0, 0}))
	}))
	defer ts.Close()

	c, err := New(testConfig(ts.URL))
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "same text")
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "SAME TEXT  ")
	require.NoError(t, err)

	require.Equal(t, 1, calls, "normalized cache key should dedupe case/whitespace variants")
}

func TestEmbedBatch_DimensionMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(vectorResponse([]float32{1, 0}))
	}))
	defer ts.Close()

	c, err := New(testConfig(ts.URL))
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "too short")
	require.Error(t, err)
}
