package store

import (
	"context"
	"testing"

	"cogstream/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestMemoryDocumentStore_SearchIsFailSecureOnEmptyDepartments(t *testing.T) {
	s := NewMemoryDocumentStore()
	require.NoError(t, s.Upsert(context.Background(), domain.DocumentChunk{
		TenantID: "acme", FileHash: "h1", Active: true, DepartmentAccess: []string{"hr"},
	}))

	out, err := s.SearchDocuments(context.Background(), DocumentQuery{TenantID: "acme"})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestMemoryDocumentStore_UpsertIsIdempotentByFileHashAndChunkIndex(t *testing.T) {
	s := NewMemoryDocumentStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, domain.DocumentChunk{
		TenantID: "acme", FileHash: "h1", ChunkIndex: 0, Active: true, Content: "v1", DepartmentAccess: []string{"hr"},
	}))
	require.NoError(t, s.Upsert(ctx, domain.DocumentChunk{
		TenantID: "acme", FileHash: "h1", ChunkIndex: 0, Active: true, Content: "v2", DepartmentAccess: []string{"hr"},
	}))

	out, err := s.SearchDocuments(ctx, DocumentQuery{TenantID: "acme", AllowedDepartments: []string{"hr"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "v2", out[0].Chunk.Content)
}

func TestMemoryDocumentStore_CosineScoringAndThreshold(t *testing.T) {
	s := NewMemoryDocumentStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, domain.DocumentChunk{
		TenantID: "acme", FileHash: "a", Active: true, DepartmentAccess: []string{"hr"},
		Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, s.Upsert(ctx, domain.DocumentChunk{
		TenantID: "acme", FileHash: "b", Active: true, DepartmentAccess: []string{"hr"},
		Embedding: []float32{0, 1, 0},
	}))

	out, err := s.SearchDocuments(ctx, DocumentQuery{
		TenantID: "acme", AllowedDepartments: []string{"hr"},
		QueryEmbedding: []float32{1, 0, 0}, Threshold: 0.9,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.InDelta(t, 1.0, out[0].Score, 1e-6)
}

func TestMemoryDocumentStore_ExpandContext(t *testing.T) {
	s := NewMemoryDocumentStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, domain.DocumentChunk{ID: "pre", FileHash: "p", Active: true}))
	require.NoError(t, s.Upsert(ctx, domain.DocumentChunk{
		ID: "root", FileHash: "r", Active: true, PrerequisiteIDs: []string{"pre"},
	}))

	out, err := s.ExpandContext(ctx, "root")
	require.NoError(t, err)
	require.Len(t, out, 2)
}
