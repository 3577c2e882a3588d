package store

import (
	"context"
	"time"

	"cogstream/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSessionStore is the C3 durable backend: append-only exchanges,
// sequence_index stamped inside the insert transaction, mirroring the
// teacher's chat_store_postgres.go session/message pair.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

func (s *PostgresSessionStore) Close() { s.pool.Close() }

func (s *PostgresSessionStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS exchanges (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  tenant_id TEXT NOT NULL DEFAULT '',
  sequence_index BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  human_content TEXT NOT NULL,
  assistant_content TEXT NOT NULL,
  source TEXT NOT NULL DEFAULT 'chat',
  intent_type TEXT NOT NULL DEFAULT '',
  complexity TEXT NOT NULL DEFAULT '',
  technical_depth INTEGER NOT NULL DEFAULT 0,
  emotional_valence TEXT NOT NULL DEFAULT '',
  urgency TEXT NOT NULL DEFAULT '',
  conversation_mode TEXT NOT NULL DEFAULT '',
  has_code BOOLEAN NOT NULL DEFAULT false,
  has_error BOOLEAN NOT NULL DEFAULT false,
  action_required BOOLEAN NOT NULL DEFAULT false,
  tags JSONB NOT NULL DEFAULT '{}'::jsonb,
  cluster_id INTEGER NOT NULL DEFAULT -1,
  cluster_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
  access_count BIGINT NOT NULL DEFAULT 0,
  last_accessed TIMESTAMPTZ,
  trace_id TEXT NOT NULL DEFAULT '',
  partial BOOLEAN NOT NULL DEFAULT false
);
CREATE UNIQUE INDEX IF NOT EXISTS exchanges_session_seq_idx ON exchanges(session_id, sequence_index);
CREATE INDEX IF NOT EXISTS exchanges_user_created_idx ON exchanges(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS exchanges_tenant_created_idx ON exchanges(tenant_id, created_at DESC);
`)
	return err
}

func (s *PostgresSessionStore) RecordExchange(ctx context.Context, ex domain.Exchange) (string, error) {
	if ex.ID == "" {
		ex.ID = domain.ExchangeID(ex.SessionID, ex.HumanContent, ex.AssistantContent)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingID string
	err = tx.QueryRow(ctx, `SELECT id FROM exchanges WHERE id = $1`, ex.ID).Scan(&existingID)
	if err == nil {
		return existingID, nil // idempotent no-op
	}
	if err != pgx.ErrNoRows {
		return "", err
	}

	var seq int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence_index), 0) + 1 FROM exchanges WHERE session_id = $1`, ex.SessionID).Scan(&seq); err != nil {
		return "", err
	}
	ex.SequenceIndex = seq

	if _, err := tx.Exec(ctx, `
INSERT INTO exchanges (
  id, session_id, user_id, tenant_id, sequence_index, human_content, assistant_content, source,
  intent_type, complexity, technical_depth, emotional_valence, urgency, conversation_mode,
  has_code, has_error, action_required, tags, cluster_id, cluster_confidence, trace_id, partial
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
`, ex.ID, ex.SessionID, ex.UserID, ex.TenantID, ex.SequenceIndex, ex.HumanContent, ex.AssistantContent, ex.Source,
		ex.IntentType, ex.Complexity, ex.TechnicalDepth, ex.EmotionalValence, ex.Urgency, ex.ConversationMode,
		ex.Flags.HasCode, ex.Flags.HasError, ex.Flags.ActionRequired, ex.Tags, ex.ClusterID, ex.ClusterConfidence,
		ex.TraceID, ex.Partial,
	); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return ex.ID, nil
}

func (s *PostgresSessionStore) Recent(ctx context.Context, scope domain.Scope, since time.Time, limit int) ([]domain.Exchange, error) {
	if scope.Empty() {
		return []domain.Exchange{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, session_id, user_id, tenant_id, sequence_index, created_at, human_content, assistant_content,
source, intent_type, complexity, technical_depth, emotional_valence, urgency, conversation_mode,
has_code, has_error, action_required, tags, cluster_id, cluster_confidence, trace_id, partial
FROM exchanges
WHERE ((user_id = $1 AND $1 <> '') OR (tenant_id = $2 AND $2 <> ''))
AND created_at >= $3
ORDER BY created_at DESC LIMIT $4`, scope.UserID, scope.TenantID, since, limit)
	if err != nil {
		return nil, err
	}
	return scanExchanges(rows)
}

func (s *PostgresSessionStore) ByTimeRange(ctx context.Context, scope domain.Scope, from, to time.Time, limit int) ([]domain.Exchange, error) {
	if scope.Empty() {
		return []domain.Exchange{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, session_id, user_id, tenant_id, sequence_index, created_at, human_content, assistant_content,
source, intent_type, complexity, technical_depth, emotional_valence, urgency, conversation_mode,
has_code, has_error, action_required, tags, cluster_id, cluster_confidence, trace_id, partial
FROM exchanges
WHERE ((user_id = $1 AND $1 <> '') OR (tenant_id = $2 AND $2 <> ''))
AND created_at BETWEEN $3 AND $4
ORDER BY created_at DESC LIMIT $5`, scope.UserID, scope.TenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	return scanExchanges(rows)
}

func (s *PostgresSessionStore) ByIDs(ctx context.Context, scope domain.Scope, ids []string) ([]domain.Exchange, error) {
	if scope.Empty() || len(ids) == 0 {
		return []domain.Exchange{}, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, session_id, user_id, tenant_id, sequence_index, created_at, human_content, assistant_content,
source, intent_type, complexity, technical_depth, emotional_valence, urgency, conversation_mode,
has_code, has_error, action_required, tags, cluster_id, cluster_confidence, trace_id, partial
FROM exchanges
WHERE id = ANY($1) AND ((user_id = $2 AND $2 <> '') OR (tenant_id = $3 AND $3 <> ''))`, ids, scope.UserID, scope.TenantID)
	if err != nil {
		return nil, err
	}
	return scanExchanges(rows)
}

func (s *PostgresSessionStore) SearchKeyword(ctx context.Context, scope domain.Scope, term string, limit int) ([]domain.ScoredExchange, error) {
	if scope.Empty() || term == "" {
		return []domain.ScoredExchange{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + term + "%"
	rows, err := s.pool.Query(ctx, `
SELECT id, session_id, user_id, tenant_id, sequence_index, created_at, human_content, assistant_content,
source, intent_type, complexity, technical_depth, emotional_valence, urgency, conversation_mode,
has_code, has_error, action_required, tags, cluster_id, cluster_confidence, trace_id, partial,
(length(lower(human_content || ' ' || assistant_content)) -
 length(replace(lower(human_content || ' ' || assistant_content), lower($1), ''))) AS hits
FROM exchanges
WHERE ((user_id = $2 AND $2 <> '') OR (tenant_id = $3 AND $3 <> ''))
AND (human_content ILIKE $4 OR assistant_content ILIKE $4)
ORDER BY hits DESC, created_at DESC LIMIT $5`, term, scope.UserID, scope.TenantID, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ScoredExchange
	for rows.Next() {
		var ex domain.Exchange
		var hits int
		if err := rows.Scan(
			&ex.ID, &ex.SessionID, &ex.UserID, &ex.TenantID, &ex.SequenceIndex, &ex.CreatedAt, &ex.HumanContent,
			&ex.AssistantContent, &ex.Source, &ex.IntentType, &ex.Complexity, &ex.TechnicalDepth, &ex.EmotionalValence,
			&ex.Urgency, &ex.ConversationMode, &ex.Flags.HasCode, &ex.Flags.HasError, &ex.Flags.ActionRequired,
			&ex.Tags, &ex.ClusterID, &ex.ClusterConfidence, &ex.TraceID, &ex.Partial, &hits,
		); err != nil {
			return nil, err
		}
		out = append(out, domain.ScoredExchange{Exchange: ex, Score: float64(hits)})
	}
	if out == nil {
		out = []domain.ScoredExchange{}
	}
	return out, rows.Err()
}

func scanExchanges(rows pgx.Rows) ([]domain.Exchange, error) {
	defer rows.Close()
	var out []domain.Exchange
	for rows.Next() {
		var ex domain.Exchange
		if err := rows.Scan(
			&ex.ID, &ex.SessionID, &ex.UserID, &ex.TenantID, &ex.SequenceIndex, &ex.CreatedAt, &ex.HumanContent,
			&ex.AssistantContent, &ex.Source, &ex.IntentType, &ex.Complexity, &ex.TechnicalDepth, &ex.EmotionalValence,
			&ex.Urgency, &ex.ConversationMode, &ex.Flags.HasCode, &ex.Flags.HasError, &ex.Flags.ActionRequired,
			&ex.Tags, &ex.ClusterID, &ex.ClusterConfidence, &ex.TraceID, &ex.Partial,
		); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	if out == nil {
		out = []domain.Exchange{}
	}
	return out, rows.Err()
}
