// Package ingest implements the memory-ingest pipeline (C5): an async
// batching queue that embeds, clusters, and publishes completed exchanges
// to an in-process session buffer before writing them durably, mirroring
// the teacher's worker-task-over-bounded-channel style used for its own
// background pipelines.
package ingest

import (
	"context"
	"math"
	"sync"
	"time"

	"cogstream/internal/domain"
	"cogstream/internal/embedding"
	"cogstream/internal/observability"
	"cogstream/internal/store"
)

// Clusterer assigns a streaming cluster id to a batch of embeddings. A nil
// Clusterer (or one that errors) degrades every item in the batch to
// cluster_id=-1, matching the CLUSTERING-step failure semantics.
type Clusterer interface {
	Assign(ctx context.Context, embeddings [][]float32) (clusterIDs []int, confidences []float64, err error)
}

// Config tunes batch timeout/size and the minimum SearchSession score.
type Config struct {
	BatchTimeout    time.Duration // default 5s
	BatchSize       int           // default 10
	MinSearchScore  float64       // default 0.5
	EmbedRetries    int           // default 2
	DurableRetryMax int           // default 5
}

func (c Config) withDefaults() Config {
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MinSearchScore <= 0 {
		c.MinSearchScore = 0.5
	}
	if c.EmbedRetries <= 0 {
		c.EmbedRetries = 2
	}
	if c.DurableRetryMax <= 0 {
		c.DurableRetryMax = 5
	}
	return c
}

// arena is the snake-eats-tail session buffer: three parallel slices
// (outputs, embeddings, materialized exchange nodes) published by a single
// pointer swap so readers never observe a partially-published batch.
type arena struct {
	outputs    []string
	embeddings [][]float32
	nodes      []domain.Exchange
}

// Pipeline is the C5 contract: Ingest/SearchSession/Stop.
type Pipeline struct {
	cfg       Config
	embedder  *embedding.Client
	clusterer Clusterer
	sessions  store.SessionStore
	publisher EventPublisher

	mu      sync.Mutex
	queue   []domain.Exchange
	timer   *time.Timer
	stopped bool

	arenaPtr *arena
	arenaMu  sync.RWMutex

	wg sync.WaitGroup
}

// EventPublisher fans out an ExchangeIngested event after DURABLE-WRITE.
// Publish failures never block the in-process buffer becoming visible.
type EventPublisher interface {
	PublishExchangeIngested(ctx context.Context, ex domain.Exchange) error
}

// noopPublisher is used when no event publisher is configured.
type noopPublisher struct{}

func (noopPublisher) PublishExchangeIngested(context.Context, domain.Exchange) error { return nil }

func New(cfg Config, embedder *embedding.Client, clusterer Clusterer, sessions store.SessionStore, publisher EventPublisher) *Pipeline {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	p := &Pipeline{
		cfg:       cfg.withDefaults(),
		embedder:  embedder,
		clusterer: clusterer,
		sessions:  sessions,
		publisher: publisher,
		arenaPtr:  &arena{},
	}
	return p
}

// Ingest enqueues an exchange and returns immediately. sequence_index is
// assigned per-session by the Session Memory Store at durable-write time;
// here we only stage the item for batching.
func (p *Pipeline) Ingest(ex domain.Exchange) {
	if ex.ID == "" {
		ex.ID = domain.ExchangeID(ex.SessionID, ex.HumanContent, ex.AssistantContent)
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, ex)
	full := len(p.queue) >= p.cfg.BatchSize
	if p.timer == nil {
		p.timer = time.AfterFunc(p.cfg.BatchTimeout, p.flushOnTimeout)
	}
	if full {
		batch := p.queue
		p.queue = nil
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		p.wg.Add(1)
		p.mu.Unlock()
		go func() {
			defer p.wg.Done()
			p.runBatch(batch)
		}()
		return
	}
	p.mu.Unlock()
}

func (p *Pipeline) flushOnTimeout() {
	p.mu.Lock()
	batch := p.queue
	p.queue = nil
	p.timer = nil
	p.mu.Unlock()
	if len(batch) > 0 {
		p.runBatch(batch)
	}
}

// runBatch drives one pass of EMBEDDING -> CLUSTERING -> PUBLISHING ->
// DURABLE-WRITE for a closed batch.
func (p *Pipeline) runBatch(batch []domain.Exchange) {
	p.wg.Add(1)
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	log := observability.LoggerWithTrace(ctx)

	// EMBEDDING
	texts := make([]string, len(batch))
	for i, ex := range batch {
		texts[i] = ex.HumanContent + "\n" + ex.AssistantContent
	}
	if p.embedder != nil {
		vecs, err := p.embedBatchWithRetry(ctx, texts)
		if err != nil {
			log.Warn().Err(err).Int("batch", len(batch)).Msg("ingest_embedding_failed")
		} else {
			for i := range batch {
				if i < len(vecs) {
					batch[i].Embedding = vecs[i]
				}
			}
		}
	}

	// CLUSTERING
	if p.clusterer != nil {
		embs := make([][]float32, len(batch))
		for i, ex := range batch {
			embs[i] = ex.Embedding
		}
		ids, confs, err := p.clusterer.Assign(ctx, embs)
		if err != nil {
			log.Warn().Err(err).Msg("ingest_clustering_failed")
			for i := range batch {
				batch[i].ClusterID = -1
			}
		} else {
			for i := range batch {
				if i < len(ids) {
					batch[i].ClusterID = ids[i]
				} else {
					batch[i].ClusterID = -1
				}
				if i < len(confs) {
					batch[i].ClusterConfidence = confs[i]
				}
			}
		}
	} else {
		for i := range batch {
			batch[i].ClusterID = -1
		}
	}

	// PUBLISHING — atomic pointer swap publish.
	p.publish(batch)

	// DURABLE-WRITE
	for _, ex := range batch {
		p.durableWriteWithRetry(ctx, ex)
	}
}

func (p *Pipeline) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.EmbedRetries; attempt++ {
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		time.Sleep(backoff(attempt))
	}
	return nil, lastErr
}

func (p *Pipeline) durableWriteWithRetry(ctx context.Context, ex domain.Exchange) {
	log := observability.LoggerWithTrace(ctx)
	var lastErr error
	for attempt := 0; attempt < p.cfg.DurableRetryMax; attempt++ {
		if _, err := p.sessions.RecordExchange(ctx, ex); err == nil {
			if pubErr := p.publisher.PublishExchangeIngested(ctx, ex); pubErr != nil {
				log.Warn().Err(pubErr).Str("exchange_id", ex.ID).Msg("ingest_event_publish_failed")
			}
			return
		} else {
			lastErr = err
			time.Sleep(backoff(attempt))
		}
	}
	log.Error().Err(lastErr).Str("exchange_id", ex.ID).Msg("ingest_durable_write_exhausted_retries")
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// publish appends the batch to new parallel slices and swaps the arena
// pointer atomically, so SearchSession readers see either the pre- or
// post-batch state, never a partial batch.
func (p *Pipeline) publish(batch []domain.Exchange) {
	p.arenaMu.Lock()
	old := p.arenaPtr
	next := &arena{
		outputs:    make([]string, len(old.outputs), len(old.outputs)+len(batch)),
		embeddings: make([][]float32, len(old.embeddings), len(old.embeddings)+len(batch)),
		nodes:      make([]domain.Exchange, len(old.nodes), len(old.nodes)+len(batch)),
	}
	copy(next.outputs, old.outputs)
	copy(next.embeddings, old.embeddings)
	copy(next.nodes, old.nodes)
	for _, ex := range batch {
		next.outputs = append(next.outputs, ex.AssistantContent)
		next.embeddings = append(next.embeddings, ex.Embedding)
		next.nodes = append(next.nodes, ex)
	}
	p.arenaPtr = next
	p.arenaMu.Unlock()
}

// SearchSession performs a single cosine scan over the session buffer,
// scoped to sessionID, returning matches scoring at or above the
// configured minimum.
func (p *Pipeline) SearchSession(ctx context.Context, sessionID string, queryEmbedding []float32, topK int) []domain.ScoredExchange {
	if len(queryEmbedding) == 0 {
		return nil
	}
	p.arenaMu.RLock()
	a := p.arenaPtr
	p.arenaMu.RUnlock()

	type scored struct {
		ex    domain.Exchange
		score float64
	}
	var candidates []scored
	for i, ex := range a.nodes {
		if ex.SessionID != sessionID {
			continue
		}
		vec := a.embeddings[i]
		if len(vec) == 0 {
			continue
		}
		s := cosine(queryEmbedding, vec)
		if s >= p.cfg.MinSearchScore {
			candidates = append(candidates, scored{ex: ex, score: s})
		}
	}
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].score > candidates[i].score {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	out := make([]domain.ScoredExchange, len(candidates))
	for i, c := range candidates {
		out[i] = domain.ScoredExchange{Exchange: c.ex, Score: c.score}
	}
	return out
}

// Stop flushes any pending batch durably and waits for in-flight work.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	batch := p.queue
	p.queue = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	if len(batch) > 0 {
		p.runBatch(batch)
	}
	p.wg.Wait()
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
