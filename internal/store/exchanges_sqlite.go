package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cogstream/internal/domain"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens an embeddable SQLite database for local/dev/test runs
// that want C3 durability without a Postgres dependency, using the same
// busy-timeout/WAL/single-writer-conn pragmas as the pack's sqliteutil
// helper.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
			}
		}
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SQLiteSessionStore is the embeddable C3 backend.
type SQLiteSessionStore struct {
	db *sql.DB
}

func NewSQLiteSessionStore(db *sql.DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

func (s *SQLiteSessionStore) Close() error { return s.db.Close() }

func (s *SQLiteSessionStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS exchanges (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  tenant_id TEXT NOT NULL DEFAULT '',
  sequence_index INTEGER NOT NULL,
  created_at TEXT NOT NULL,
  human_content TEXT NOT NULL,
  assistant_content TEXT NOT NULL,
  source TEXT NOT NULL DEFAULT 'chat',
  intent_type TEXT NOT NULL DEFAULT '',
  complexity TEXT NOT NULL DEFAULT '',
  technical_depth INTEGER NOT NULL DEFAULT 0,
  emotional_valence TEXT NOT NULL DEFAULT '',
  urgency TEXT NOT NULL DEFAULT '',
  conversation_mode TEXT NOT NULL DEFAULT '',
  has_code INTEGER NOT NULL DEFAULT 0,
  has_error INTEGER NOT NULL DEFAULT 0,
  action_required INTEGER NOT NULL DEFAULT 0,
  tags TEXT NOT NULL DEFAULT '{}',
  cluster_id INTEGER NOT NULL DEFAULT -1,
  cluster_confidence REAL NOT NULL DEFAULT 0,
  trace_id TEXT NOT NULL DEFAULT '',
  partial INTEGER NOT NULL DEFAULT 0,
  UNIQUE(session_id, sequence_index)
);
CREATE INDEX IF NOT EXISTS exchanges_user_created_idx ON exchanges(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS exchanges_tenant_created_idx ON exchanges(tenant_id, created_at DESC);
`)
	return err
}

func (s *SQLiteSessionStore) RecordExchange(ctx context.Context, ex domain.Exchange) (string, error) {
	if ex.ID == "" {
		ex.ID = domain.ExchangeID(ex.SessionID, ex.HumanContent, ex.AssistantContent)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM exchanges WHERE id = ?`, ex.ID).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence_index), 0) + 1 FROM exchanges WHERE session_id = ?`, ex.SessionID).Scan(&seq); err != nil {
		return "", err
	}
	ex.SequenceIndex = seq
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	tagsJSON, err := json.Marshal(ex.Tags)
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO exchanges (
  id, session_id, user_id, tenant_id, sequence_index, created_at, human_content, assistant_content, source,
  intent_type, complexity, technical_depth, emotional_valence, urgency, conversation_mode,
  has_code, has_error, action_required, tags, cluster_id, cluster_confidence, trace_id, partial
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ex.ID, ex.SessionID, ex.UserID, ex.TenantID, ex.SequenceIndex, ex.CreatedAt.Format(time.RFC3339Nano),
		ex.HumanContent, ex.AssistantContent, ex.Source, ex.IntentType, ex.Complexity, ex.TechnicalDepth,
		ex.EmotionalValence, ex.Urgency, ex.ConversationMode, boolToInt(ex.Flags.HasCode), boolToInt(ex.Flags.HasError),
		boolToInt(ex.Flags.ActionRequired), string(tagsJSON), ex.ClusterID, ex.ClusterConfidence, ex.TraceID,
		boolToInt(ex.Partial),
	)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return ex.ID, nil
}

func (s *SQLiteSessionStore) Recent(ctx context.Context, scope domain.Scope, since time.Time, limit int) ([]domain.Exchange, error) {
	if scope.Empty() {
		return []domain.Exchange{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+exchangeCols+` FROM exchanges
WHERE ((user_id = ? AND ? <> '') OR (tenant_id = ? AND ? <> '')) AND created_at >= ?
ORDER BY created_at DESC LIMIT ?`,
		scope.UserID, scope.UserID, scope.TenantID, scope.TenantID, since.Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	return scanSQLiteExchanges(rows)
}

func (s *SQLiteSessionStore) ByTimeRange(ctx context.Context, scope domain.Scope, from, to time.Time, limit int) ([]domain.Exchange, error) {
	if scope.Empty() {
		return []domain.Exchange{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+exchangeCols+` FROM exchanges
WHERE ((user_id = ? AND ? <> '') OR (tenant_id = ? AND ? <> '')) AND created_at BETWEEN ? AND ?
ORDER BY created_at DESC LIMIT ?`,
		scope.UserID, scope.UserID, scope.TenantID, scope.TenantID,
		from.Format(time.RFC3339Nano), to.Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	return scanSQLiteExchanges(rows)
}

func (s *SQLiteSessionStore) ByIDs(ctx context.Context, scope domain.Scope, ids []string) ([]domain.Exchange, error) {
	if scope.Empty() || len(ids) == 0 {
		return []domain.Exchange{}, nil
	}
	placeholders := ""
	args := make([]any, 0, len(ids)+4)
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}
	args = append(args, scope.UserID, scope.UserID, scope.TenantID, scope.TenantID)
	rows, err := s.db.QueryContext(ctx, `
SELECT `+exchangeCols+` FROM exchanges
WHERE id IN (`+placeholders+`) AND ((user_id = ? AND ? <> '') OR (tenant_id = ? AND ? <> ''))`, args...)
	if err != nil {
		return nil, err
	}
	return scanSQLiteExchanges(rows)
}

func (s *SQLiteSessionStore) SearchKeyword(ctx context.Context, scope domain.Scope, term string, limit int) ([]domain.ScoredExchange, error) {
	if scope.Empty() || strings.TrimSpace(term) == "" {
		return []domain.ScoredExchange{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + term + "%"
	rows, err := s.db.QueryContext(ctx, `
SELECT `+exchangeCols+` FROM exchanges
WHERE ((user_id = ? AND ? <> '') OR (tenant_id = ? AND ? <> ''))
AND (human_content LIKE ? OR assistant_content LIKE ?)
ORDER BY created_at DESC`,
		scope.UserID, scope.UserID, scope.TenantID, scope.TenantID, pattern, pattern)
	if err != nil {
		return nil, err
	}
	exchanges, err := scanSQLiteExchanges(rows)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(term)
	out := make([]domain.ScoredExchange, 0, len(exchanges))
	for _, ex := range exchanges {
		haystack := strings.ToLower(ex.HumanContent + " " + ex.AssistantContent)
		n := strings.Count(haystack, needle)
		if n == 0 {
			continue
		}
		out = append(out, domain.ScoredExchange{Exchange: ex, Score: float64(n)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Exchange.CreatedAt.After(out[j].Exchange.CreatedAt)
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

const exchangeCols = `id, session_id, user_id, tenant_id, sequence_index, created_at, human_content, assistant_content,
source, intent_type, complexity, technical_depth, emotional_valence, urgency, conversation_mode,
has_code, has_error, action_required, tags, cluster_id, cluster_confidence, trace_id, partial`

func scanSQLiteExchanges(rows *sql.Rows) ([]domain.Exchange, error) {
	defer rows.Close()
	var out []domain.Exchange
	for rows.Next() {
		var ex domain.Exchange
		var createdAt, tagsJSON string
		var hasCode, hasError, actionRequired, partial int
		if err := rows.Scan(
			&ex.ID, &ex.SessionID, &ex.UserID, &ex.TenantID, &ex.SequenceIndex, &createdAt, &ex.HumanContent,
			&ex.AssistantContent, &ex.Source, &ex.IntentType, &ex.Complexity, &ex.TechnicalDepth, &ex.EmotionalValence,
			&ex.Urgency, &ex.ConversationMode, &hasCode, &hasError, &actionRequired, &tagsJSON, &ex.ClusterID,
			&ex.ClusterConfidence, &ex.TraceID, &partial,
		); err != nil {
			return nil, err
		}
		ex.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		ex.Flags = domain.Flags{HasCode: hasCode != 0, HasError: hasError != 0, ActionRequired: actionRequired != 0}
		ex.Partial = partial != 0
		_ = json.Unmarshal([]byte(tagsJSON), &ex.Tags)
		out = append(out, ex)
	}
	if out == nil {
		out = []domain.Exchange{}
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
