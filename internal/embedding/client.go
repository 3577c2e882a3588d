// Package embedding implements the Embedding Client (C1): text -> fixed-dim
// unit vector via an external HTTP service, with bounded concurrency, RPM
// limiting, and a two-tier cache keyed by SHA-256 of the normalized text.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"cogstream/internal/config"
	"cogstream/internal/observability"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Client is the C1 embedding client. Construct once at startup and pass by
// interface to everything that needs embeddings (C4, C5, cmd/docingest).
type Client struct {
	cfg    config.EmbeddingConfig
	http   *http.Client
	sem    *semaphore.Weighted
	lim    *rate.Limiter
	l1     *lru.Cache[string, []float32]
	l2     redis.UniversalClient
}

// New constructs a Client. l2 caching is disabled when cfg.RedisAddr is empty.
func New(cfg config.EmbeddingConfig) (*Client, error) {
	if cfg.ConcurrencyK <= 0 {
		cfg.ConcurrencyK = 8
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}
	l1, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding: init lru cache: %w", err)
	}
	c := &Client{
		cfg:  cfg,
		http: observability.NewHTTPClient(nil),
		sem:  semaphore.NewWeighted(int64(cfg.ConcurrencyK)),
		l1:   l1,
	}
	if cfg.RPM > 0 {
		c.lim = rate.NewLimiter(rate.Limit(float64(cfg.RPM)/60.0), cfg.ConcurrencyK)
	}
	if cfg.RedisAddr != "" {
		c.l2 = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return c, nil
}

// Embed returns the L2-normalized embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds multiple texts, consulting the cache first and only
// calling the upstream service for cache misses. Returned vectors are
// L2-normalized and asserted to have dimension cfg.Dimensions.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, t := range texts {
		key := cacheKey(t)
		keys[i] = key
		if v, ok := c.l1.Get(key); ok {
			out[i] = v
			continue
		}
		if v, ok := c.l2Get(ctx, key); ok {
			out[i] = v
			c.l1.Add(key, v)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fetched, err := c.embedRemote(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		v := normalize(fetched[j])
		if len(v) != c.cfg.Dimensions && c.cfg.Dimensions > 0 {
			return nil, fmt.Errorf("embedding: dimension mismatch: got %d, want %d", len(v), c.cfg.Dimensions)
		}
		out[idx] = v
		c.l1.Add(keys[idx], v)
		c.l2Set(ctx, keys[idx], v)
	}
	return out, nil
}

func (c *Client) embedRemote(ctx context.Context, inputs []string) ([][]float32, error) {
	if c.lim != nil {
		if err := c.lim.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqBody, err := json.Marshal(embedReq{Model: c.cfg.Model, Input: inputs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.cfg.Host, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	if c.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else if c.cfg.APIHeader != "" {
		req.Header.Set(c.cfg.APIHeader, c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding: upstream error %s: %s", resp.Status, string(bodyBytes))
	}

	var er embedResp
	if err := json.Unmarshal(bodyBytes, &er); err != nil {
		return nil, fmt.Errorf("embedding: parse response (inputs=%d): %w", len(inputs), err)
	}
	if len(er.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding: unexpected count: got %d, want %d", len(er.Data), len(inputs))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

func (c *Client) l2Get(ctx context.Context, key string) ([]float32, bool) {
	if c.l2 == nil {
		return nil, false
	}
	raw, err := c.l2.Get(ctx, "emb:"+key).Bytes()
	if err != nil {
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (c *Client) l2Set(ctx context.Context, key string, v []float32) {
	if c.l2 == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.l2.Set(ctx, "emb:"+key, raw, 0).Err()
}

// CheckReachability sends a small test request to verify the endpoint works.
func (c *Client) CheckReachability(ctx context.Context) error {
	_, err := c.Embed(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}

func cacheKey(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
