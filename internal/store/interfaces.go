// Package store implements the Document Store (C2, smart RAG) and the
// Session Memory Store (C3): durable, scope-gated persistence behind small
// interfaces, with Postgres/Qdrant/bleve/sqlite backends and in-memory
// fakes for tests, mirroring the teacher's pluggable-backend style
// (interfaces.go + one file per backend, "chat_store_memory.go" being a
// real alternate implementation rather than a mock).
package store

import (
	"context"
	"time"

	"cogstream/internal/domain"
)

// DocumentQuery is the read contract for C2 (spec.md §4.2).
type DocumentQuery struct {
	QueryEmbedding     []float32 // nil => keyword-only mode
	TenantID           string
	AllowedDepartments []string
	Intent             string
	Entities           []string
	Verbs              []string
	Threshold          float64 // default 0.6
	SafetyCap          int     // default 200, never truncate below threshold otherwise
}

// DocumentStore is the C2 contract.
type DocumentStore interface {
	// SearchDocuments pre-filters by department/intent/entity/verb overlap
	// and active=true, scores by cosine similarity (or keyword overlap when
	// QueryEmbedding is nil), keeps candidates with score >= Threshold when
	// QueryEmbedding is set (keyword-only mode applies no threshold), and
	// returns up to SafetyCap ordered by (importance DESC, score DESC,
	// process_step ASC NULLS LAST).
	SearchDocuments(ctx context.Context, q DocumentQuery) ([]domain.ScoredChunk, error)
	// ExpandContext returns chunk plus everything in its PrerequisiteIDs and
	// SeeAlsoIDs. Idempotent modulo the active set of chunks.
	ExpandContext(ctx context.Context, chunkID string) ([]domain.DocumentChunk, error)
	// Upsert is the write-side contract: idempotency key is
	// (tenant_id, file_hash, chunk_index) among active=true rows.
	Upsert(ctx context.Context, chunk domain.DocumentChunk) error
}

// SessionStore is the C3 contract: durable exchange log scoped by
// user/tenant, most-recent-first as the hot path.
type SessionStore interface {
	// RecordExchange stamps sequence_index atomically within the session
	// and returns the committed exchange id.
	RecordExchange(ctx context.Context, ex domain.Exchange) (string, error)
	// Recent returns exchanges since the given time for this scope, most
	// recent first. Empty scope returns an empty slice, never an error.
	Recent(ctx context.Context, scope domain.Scope, since time.Time, limit int) ([]domain.Exchange, error)
	// ByTimeRange returns exchanges with created_at in [from, to].
	ByTimeRange(ctx context.Context, scope domain.Scope, from, to time.Time, limit int) ([]domain.Exchange, error)
	// ByIDs returns exchanges matching ids, scope-filtered.
	ByIDs(ctx context.Context, scope domain.Scope, ids []string) ([]domain.Exchange, error)
	// SearchKeyword backs the GREP tool and the episodic lane's keyword
	// rank: a substring/term match over human+assistant content, scope
	// filtered, most relevant first. Empty scope returns an empty slice.
	SearchKeyword(ctx context.Context, scope domain.Scope, term string, limit int) ([]domain.ScoredExchange, error)
}
