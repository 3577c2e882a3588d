package ingest

import (
	"context"
	"testing"
	"time"

	"cogstream/internal/domain"
	"cogstream/internal/store"

	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *store.MemorySessionStore) {
	t.Helper()
	sessions := store.NewMemorySessionStore()
	p := New(cfg, nil, nil, sessions, nil)
	return p, sessions
}

func TestPipeline_BatchFullTriggersFlushWithoutWaitingForTimeout(t *testing.T) {
	p, sessions := newTestPipeline(t, Config{BatchTimeout: time.Hour, BatchSize: 2})
	p.Ingest(domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "a", AssistantContent: "b"})
	p.Ingest(domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "c", AssistantContent: "d"})
	p.Stop()

	out, err := sessions.Recent(context.Background(), domain.Scope{UserID: "u1"}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestPipeline_BatchTimeoutFlushesPartialBatch(t *testing.T) {
	p, sessions := newTestPipeline(t, Config{BatchTimeout: 30 * time.Millisecond, BatchSize: 100})
	p.Ingest(domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "a", AssistantContent: "b"})
	time.Sleep(150 * time.Millisecond)

	out, err := sessions.Recent(context.Background(), domain.Scope{UserID: "u1"}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	p.Stop()
}

func TestPipeline_StopFlushesPendingBatch(t *testing.T) {
	p, sessions := newTestPipeline(t, Config{BatchTimeout: time.Hour, BatchSize: 100})
	p.Ingest(domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "a", AssistantContent: "b"})
	p.Stop()

	out, err := sessions.Recent(context.Background(), domain.Scope{UserID: "u1"}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestPipeline_RecordExchangeIsIdempotentAcrossBatches(t *testing.T) {
	p, sessions := newTestPipeline(t, Config{BatchTimeout: time.Hour, BatchSize: 1})
	ex := domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "a", AssistantContent: "b"}
	p.Ingest(ex)
	p.Ingest(ex)
	p.Stop()

	out, err := sessions.Recent(context.Background(), domain.Scope{UserID: "u1"}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestPipeline_SearchSessionReturnsOnlyMatchesAboveMinScoreScopedToSession(t *testing.T) {
	p, _ := newTestPipeline(t, Config{MinSearchScore: 0.5})

	// Publish directly to bypass the embedding step (no embedder configured in tests).
	p.publish([]domain.Exchange{
		{ID: "e1", SessionID: "s1", AssistantContent: "match", Embedding: []float32{1, 0, 0}},
		{ID: "e2", SessionID: "s1", AssistantContent: "orthogonal", Embedding: []float32{0, 1, 0}},
		{ID: "e3", SessionID: "s2", AssistantContent: "other session", Embedding: []float32{1, 0, 0}},
	})

	results := p.SearchSession(context.Background(), "s1", []float32{1, 0, 0}, 10)
	require.Len(t, results, 1)
	require.Equal(t, "e1", results[0].Exchange.ID)
	require.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestPipeline_PublishIsAdditiveAcrossBatches(t *testing.T) {
	p, _ := newTestPipeline(t, Config{MinSearchScore: 0.1})
	p.publish([]domain.Exchange{{ID: "e1", SessionID: "s1", Embedding: []float32{1, 0}}})
	p.publish([]domain.Exchange{{ID: "e2", SessionID: "s1", Embedding: []float32{0, 1}}})

	results := p.SearchSession(context.Background(), "s1", []float32{1, 0}, 10)
	require.Len(t, results, 1)
	require.Equal(t, "e1", results[0].Exchange.ID)
}

func TestPipeline_ClusterIDDefaultsToNegativeOneWithoutClusterer(t *testing.T) {
	p, sessions := newTestPipeline(t, Config{BatchTimeout: time.Hour, BatchSize: 1})
	p.Ingest(domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "a", AssistantContent: "b"})
	p.Stop()

	out, err := sessions.Recent(context.Background(), domain.Scope{UserID: "u1"}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, -1, out[0].ClusterID)
}

func TestPipeline_IngestAfterStopIsDiscarded(t *testing.T) {
	p, sessions := newTestPipeline(t, Config{BatchTimeout: time.Hour, BatchSize: 100})
	p.Stop()
	p.Ingest(domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "a", AssistantContent: "b"})

	out, err := sessions.Recent(context.Background(), domain.Scope{UserID: "u1"}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, out, 0)
}
