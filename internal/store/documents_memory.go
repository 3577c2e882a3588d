package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"cogstream/internal/domain"
)

// MemoryDocumentStore is an in-process DocumentStore, real (not a mock)
// alternate implementation used by tests and local/dev runs.
type MemoryDocumentStore struct {
	mu     sync.RWMutex
	chunks map[string]domain.DocumentChunk
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{chunks: make(map[string]domain.DocumentChunk)}
}

func (m *MemoryDocumentStore) Upsert(ctx context.Context, chunk domain.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// idempotency key: (tenant_id, file_hash, chunk_index) among active rows
	for id, existing := range m.chunks {
		if !existing.Active {
			continue
		}
		if existing.TenantID == chunk.TenantID && existing.FileHash == chunk.FileHash && existing.ChunkIndex == chunk.ChunkIndex {
			chunk.ID = id
			break
		}
	}
	if chunk.ID == "" {
		chunk.ID = domain.NewChunkID()
	}
	m.chunks[chunk.ID] = chunk
	return nil
}

func (m *MemoryDocumentStore) ExpandContext(ctx context.Context, chunkID string) ([]domain.DocumentChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	root, ok := m.chunks[chunkID]
	if !ok || !root.Active {
		return nil, domain.ErrNotFound
	}
	out := []domain.DocumentChunk{root}
	seen := map[string]bool{root.ID: true}
	for _, id := range append(append([]string{}, root.PrerequisiteIDs...), root.SeeAlsoIDs...) {
		if seen[id] {
			continue
		}
		if c, ok := m.chunks[id]; ok && c.Active {
			out = append(out, c)
			seen[id] = true
		}
	}
	return out, nil
}

func (m *MemoryDocumentStore) SearchDocuments(ctx context.Context, q DocumentQuery) ([]domain.ScoredChunk, error) {
	if len(q.AllowedDepartments) == 0 {
		return []domain.ScoredChunk{}, nil // fail-secure
	}
	threshold := q.Threshold
	if threshold <= 0 {
		threshold = 0.6
	}
	cap := q.SafetyCap
	if cap <= 0 {
		cap = 200
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ScoredChunk
	for _, c := range m.chunks {
		if !c.Active {
			continue
		}
		if c.TenantID != q.TenantID {
			continue
		}
		if !overlaps(c.DepartmentAccess, q.AllowedDepartments) {
			continue
		}
		if q.Intent != "" && !contains(c.QueryTypes, q.Intent) {
			continue
		}
		if len(q.Entities) > 0 && !overlaps(c.Entities, q.Entities) {
			continue
		}
		if len(q.Verbs) > 0 && !overlaps(c.Verbs, q.Verbs) {
			continue
		}

		var score float64
		if len(q.QueryEmbedding) > 0 && len(c.Embedding) > 0 {
			score = cosine(q.QueryEmbedding, c.Embedding)
		} else {
			score = keywordOverlapScore(c, q)
			// keyword-only mode never applies the vector threshold gate
			out = append(out, domain.ScoredChunk{Chunk: c, Score: score})
			continue
		}

		boosted := score
		if c.IsProcedure && q.Intent == "how_to" {
			boosted += 0.1
		}
		if boosted < threshold {
			continue
		}
		out = append(out, domain.ScoredChunk{Chunk: c, Score: boosted})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].Chunk, out[j].Chunk
		if ci.Importance != cj.Importance {
			return ci.Importance > cj.Importance
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		si, sj := ci.ProcessStep, cj.ProcessStep
		if si == nil && sj == nil {
			return ci.ID < cj.ID
		}
		if si == nil {
			return false // NULLS LAST
		}
		if sj == nil {
			return true
		}
		return *si < *sj
	})

	if len(out) > cap {
		out = out[:cap]
	}
	return out, nil
}

func keywordOverlapScore(c domain.DocumentChunk, q DocumentQuery) float64 {
	n := overlapCount(c.Entities, q.Entities) + overlapCount(c.Verbs, q.Verbs)
	return float64(n) + float64(c.Importance)/100.0
}

func overlapCount(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(b))
	for _, x := range b {
		set[x] = true
	}
	n := 0
	for _, x := range a {
		if set[x] {
			n++
		}
	}
	return n
}

func overlaps(a, b []string) bool { return overlapCount(a, b) > 0 }

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
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
