package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cogstream/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDocumentStore is the C2 primary backend: pgvector for the
// embedding column, array-overlap/containment operators for the
// pre-filter, mirroring the teacher's postgres_vector.go/postgres_search.go
// query shape.
type PostgresDocumentStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

func NewPostgresDocumentStore(pool *pgxpool.Pool, dimensions int) *PostgresDocumentStore {
	return &PostgresDocumentStore{pool: pool, dimensions: dimensions}
}

func (s *PostgresDocumentStore) Close() { s.pool.Close() }

func (s *PostgresDocumentStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS document_chunks (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  department_id TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL,
  section_title TEXT NOT NULL DEFAULT '',
  source_file TEXT NOT NULL DEFAULT '',
  file_hash TEXT NOT NULL,
  chunk_index INTEGER NOT NULL,
  token_count INTEGER NOT NULL DEFAULT 0,
  keywords TEXT[] NOT NULL DEFAULT '{}',
  category TEXT NOT NULL DEFAULT '',
  subcategory TEXT NOT NULL DEFAULT '',
  query_types TEXT[] NOT NULL DEFAULT '{}',
  verbs TEXT[] NOT NULL DEFAULT '{}',
  entities TEXT[] NOT NULL DEFAULT '{}',
  actors TEXT[] NOT NULL DEFAULT '{}',
  conditions TEXT[] NOT NULL DEFAULT '{}',
  importance INTEGER NOT NULL DEFAULT 0,
  specificity INTEGER NOT NULL DEFAULT 0,
  complexity INTEGER NOT NULL DEFAULT 0,
  is_procedure BOOLEAN NOT NULL DEFAULT false,
  is_policy BOOLEAN NOT NULL DEFAULT false,
  is_form BOOLEAN NOT NULL DEFAULT false,
  process_name TEXT NOT NULL DEFAULT '',
  process_step INTEGER,
  sibling_ids TEXT[] NOT NULL DEFAULT '{}',
  prerequisite_ids TEXT[] NOT NULL DEFAULT '{}',
  see_also_ids TEXT[] NOT NULL DEFAULT '{}',
  follows_ids TEXT[] NOT NULL DEFAULT '{}',
  department_access TEXT[] NOT NULL DEFAULT '{}',
  active BOOLEAN NOT NULL DEFAULT true,
  embedding vector(%d),
  embedding_model TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (tenant_id, file_hash, chunk_index)
);
CREATE INDEX IF NOT EXISTS document_chunks_tenant_active_idx ON document_chunks(tenant_id) WHERE active;
`, s.dimensions))
	return err
}

func (s *PostgresDocumentStore) Upsert(ctx context.Context, c domain.DocumentChunk) error {
	if c.ID == "" {
		c.ID = domain.NewChunkID()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO document_chunks (
  id, tenant_id, department_id, content, section_title, source_file, file_hash, chunk_index,
  token_count, keywords, category, subcategory, query_types, verbs, entities, actors, conditions,
  importance, specificity, complexity, is_procedure, is_policy, is_form, process_name, process_step,
  sibling_ids, prerequisite_ids, see_also_ids, follows_ids, department_access, active,
  embedding, embedding_model
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,
  $26,$27,$28,$29,$30,$31,$32::vector,$33
)
ON CONFLICT (tenant_id, file_hash, chunk_index) WHERE active
DO UPDATE SET content=EXCLUDED.content, embedding=EXCLUDED.embedding, updated_at=now()
`,
		c.ID, c.TenantID, c.DepartmentID, c.Content, c.SectionTitle, c.SourceFile, c.FileHash, c.ChunkIndex,
		c.TokenCount, c.Keywords, c.Category, c.Subcategory, c.QueryTypes, c.Verbs, c.Entities, c.Actors, c.Conditions,
		c.Importance, c.Specificity, c.Complexity, c.IsProcedure, c.IsPolicy, c.IsForm, c.ProcessName, c.ProcessStep,
		c.SiblingIDs, c.PrerequisiteIDs, c.SeeAlsoIDs, c.FollowsIDs, c.DepartmentAccess, c.Active,
		toVectorLiteral(c.Embedding), c.EmbeddingModel,
	)
	return err
}

func (s *PostgresDocumentStore) SearchDocuments(ctx context.Context, q DocumentQuery) ([]domain.ScoredChunk, error) {
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

	var b strings.Builder
	args := []any{q.TenantID, q.AllowedDepartments}
	b.WriteString(`SELECT id, tenant_id, department_id, content, section_title, source_file, file_hash,
chunk_index, token_count, keywords, category, subcategory, query_types, verbs, entities, actors,
conditions, importance, specificity, complexity, is_procedure, is_policy, is_form, process_name,
process_step, sibling_ids, prerequisite_ids, see_also_ids, follows_ids, department_access, active,
embedding_model, created_at, updated_at`)

	if len(q.QueryEmbedding) > 0 {
		args = append(args, toVectorLiteral(q.QueryEmbedding))
		b.WriteString(fmt.Sprintf(`, 1 - (embedding <=> $%d::vector) AS score`, len(args)))
	} else {
		b.WriteString(`, 0.0 AS score`)
	}

	b.WriteString(` FROM document_chunks WHERE active AND tenant_id = $1 AND department_access && $2`)
	if q.Intent != "" {
		args = append(args, q.Intent)
		b.WriteString(fmt.Sprintf(` AND query_types @> ARRAY[$%d]`, len(args)))
	}
	if len(q.Entities) > 0 {
		args = append(args, q.Entities)
		b.WriteString(fmt.Sprintf(` AND entities && $%d`, len(args)))
	}
	if len(q.Verbs) > 0 {
		args = append(args, q.Verbs)
		b.WriteString(fmt.Sprintf(` AND verbs && $%d`, len(args)))
	}
	// Candidate selection only; importance/boost/process_step ordering is
	// applied in Go below once the how_to boost has been computed.
	b.WriteString(fmt.Sprintf(` ORDER BY score DESC LIMIT %d`, cap*4))

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScoredChunk
	for rows.Next() {
		var c domain.ScoredChunk
		var ch domain.DocumentChunk
		if err := rows.Scan(
			&ch.ID, &ch.TenantID, &ch.DepartmentID, &ch.Content, &ch.SectionTitle, &ch.SourceFile, &ch.FileHash,
			&ch.ChunkIndex, &ch.TokenCount, &ch.Keywords, &ch.Category, &ch.Subcategory, &ch.QueryTypes, &ch.Verbs,
			&ch.Entities, &ch.Actors, &ch.Conditions, &ch.Importance, &ch.Specificity, &ch.Complexity, &ch.IsProcedure,
			&ch.IsPolicy, &ch.IsForm, &ch.ProcessName, &ch.ProcessStep, &ch.SiblingIDs, &ch.PrerequisiteIDs,
			&ch.SeeAlsoIDs, &ch.FollowsIDs, &ch.DepartmentAccess, &ch.Active, &ch.EmbeddingModel, &ch.CreatedAt,
			&ch.UpdatedAt, &c.Score,
		); err != nil {
			return nil, err
		}
		boosted := c.Score
		if ch.IsProcedure && q.Intent == "how_to" {
			boosted += 0.1
		}
		if len(q.QueryEmbedding) > 0 && boosted < threshold {
			continue
		}
		c.Score = boosted
		c.Chunk = ch
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

func (s *PostgresDocumentStore) ExpandContext(ctx context.Context, chunkID string) ([]domain.DocumentChunk, error) {
	root, err := s.getByID(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	out := []domain.DocumentChunk{root}
	ids := append(append([]string{}, root.PrerequisiteIDs...), root.SeeAlsoIDs...)
	for _, id := range ids {
		c, err := s.getByID(ctx, id)
		if err == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *PostgresDocumentStore) getByID(ctx context.Context, id string) (domain.DocumentChunk, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, tenant_id, department_id, content, section_title, source_file,
file_hash, chunk_index, token_count, keywords, category, subcategory, query_types, verbs, entities, actors,
conditions, importance, specificity, complexity, is_procedure, is_policy, is_form, process_name, process_step,
sibling_ids, prerequisite_ids, see_also_ids, follows_ids, department_access, active, embedding_model,
created_at, updated_at FROM document_chunks WHERE id = $1 AND active`, id)
	var ch domain.DocumentChunk
	err := row.Scan(
		&ch.ID, &ch.TenantID, &ch.DepartmentID, &ch.Content, &ch.SectionTitle, &ch.SourceFile, &ch.FileHash,
		&ch.ChunkIndex, &ch.TokenCount, &ch.Keywords, &ch.Category, &ch.Subcategory, &ch.QueryTypes, &ch.Verbs,
		&ch.Entities, &ch.Actors, &ch.Conditions, &ch.Importance, &ch.Specificity, &ch.Complexity, &ch.IsProcedure,
		&ch.IsPolicy, &ch.IsForm, &ch.ProcessName, &ch.ProcessStep, &ch.SiblingIDs, &ch.PrerequisiteIDs,
		&ch.SeeAlsoIDs, &ch.FollowsIDs, &ch.DepartmentAccess, &ch.Active, &ch.EmbeddingModel, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DocumentChunk{}, domain.ErrNotFound
		}
		return domain.DocumentChunk{}, err
	}
	return ch, nil
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}
