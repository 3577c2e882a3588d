package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"cogstream/internal/domain"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// bleveDoc is the flattened, indexable projection of a DocumentChunk. The
// full chunk is stored as stored-only JSON alongside it so a hit can be
// rehydrated without a second store round-trip.
type bleveDoc struct {
	TenantID         string   `json:"tenant_id"`
	DepartmentAccess []string `json:"department_access"`
	QueryTypes       []string `json:"query_types"`
	Entities         []string `json:"entities"`
	Verbs            []string `json:"verbs"`
	Content          string   `json:"content"`
	Keywords         []string `json:"keywords"`
	Active           bool     `json:"active"`
	Importance       int      `json:"importance"`
	ChunkJSON        string   `json:"chunk_json"`
}

// BleveDocumentStore is the keyword/BM25 backend for C2's keyword-only
// fallback mode, since bleve gives full-text relevance ranking the
// overlap-count fallback in the memory store only approximates. The C6
// tools do not query it: GREP and the episodic keyword rank go through
// SessionStore.SearchKeyword.
type BleveDocumentStore struct {
	idx bleve.Index
}

func NewBleveDocumentStore(path string) (*BleveDocumentStore, error) {
	var idx bleve.Index
	var err error
	if path == "" || path == ":memory:" {
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else if _, statErr := os.Stat(path); statErr == nil {
		idx, err = bleve.Open(path)
	} else {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	return &BleveDocumentStore{idx: idx}, nil
}

func (b *BleveDocumentStore) Close() error { return b.idx.Close() }

func (b *BleveDocumentStore) Upsert(ctx context.Context, c domain.DocumentChunk) error {
	if c.ID == "" {
		c.ID = domain.NewChunkID()
	}
	blob, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	doc := bleveDoc{
		TenantID:         c.TenantID,
		DepartmentAccess: c.DepartmentAccess,
		QueryTypes:       c.QueryTypes,
		Entities:         c.Entities,
		Verbs:            c.Verbs,
		Content:          c.Content,
		Keywords:         c.Keywords,
		Active:           c.Active,
		Importance:       c.Importance,
		ChunkJSON:        string(blob),
	}
	return b.idx.Index(c.ID, doc)
}

func (b *BleveDocumentStore) SearchDocuments(ctx context.Context, q DocumentQuery) ([]domain.ScoredChunk, error) {
	if len(q.AllowedDepartments) == 0 {
		return []domain.ScoredChunk{}, nil // fail-secure
	}
	cap := q.SafetyCap
	if cap <= 0 {
		cap = 200
	}

	conj := bleve.NewConjunctionQuery(newTermQuery("tenant_id", q.TenantID))
	deptDisj := bleve.NewDisjunctionQuery()
	for _, d := range q.AllowedDepartments {
		deptDisj.AddQuery(newTermQuery("department_access", d))
	}
	conj.AddQuery(deptDisj)
	active := bleve.NewBoolFieldQuery(true)
	active.SetField("active")
	conj.AddQuery(active)

	if q.Intent != "" || len(q.Entities)+len(q.Verbs) > 0 {
		content := bleve.NewMatchQuery(fmt.Sprintf("%s %s", q.Intent, joinTerms(q.Entities, q.Verbs)))
		content.SetField("content")
		conj.AddQuery(content)
	}

	req := bleve.NewSearchRequestOptions(conj, cap*4, 0, false)
	req.Fields = []string{"chunk_json", "is_procedure"}
	res, err := b.idx.Search(req)
	if err != nil {
		return nil, err
	}

	var out []domain.ScoredChunk
	for _, hit := range res.Hits {
		blob, _ := hit.Fields["chunk_json"].(string)
		if blob == "" {
			continue
		}
		var ch domain.DocumentChunk
		if err := json.Unmarshal([]byte(blob), &ch); err != nil {
			continue
		}
		score := hit.Score
		if ch.IsProcedure && q.Intent == "how_to" {
			score += 0.1
		}
		out = append(out, domain.ScoredChunk{Chunk: ch, Score: score})
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

func (b *BleveDocumentStore) ExpandContext(ctx context.Context, chunkID string) ([]domain.DocumentChunk, error) {
	root, err := b.getByID(chunkID)
	if err != nil {
		return nil, err
	}
	out := []domain.DocumentChunk{root}
	for _, id := range append(append([]string{}, root.PrerequisiteIDs...), root.SeeAlsoIDs...) {
		if c, err := b.getByID(id); err == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (b *BleveDocumentStore) getByID(id string) (domain.DocumentChunk, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery([]string{id}), 1, 0, false)
	req.Fields = []string{"chunk_json"}
	res, err := b.idx.Search(req)
	if err != nil {
		return domain.DocumentChunk{}, err
	}
	if len(res.Hits) == 0 {
		return domain.DocumentChunk{}, domain.ErrNotFound
	}
	blob, _ := res.Hits[0].Fields["chunk_json"].(string)
	var ch domain.DocumentChunk
	if err := json.Unmarshal([]byte(blob), &ch); err != nil {
		return domain.DocumentChunk{}, err
	}
	return ch, nil
}

func newTermQuery(field, term string) query.Query {
	q := bleve.NewTermQuery(term)
	q.SetField(field)
	return q
}

func joinTerms(groups ...[]string) string {
	out := ""
	for _, g := range groups {
		for _, t := range g {
			if out != "" {
				out += " "
			}
			out += t
		}
	}
	return out
}
