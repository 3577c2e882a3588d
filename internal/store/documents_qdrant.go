package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"cogstream/internal/domain"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadChunkField holds the full DocumentChunk, JSON-encoded, inside the
// Qdrant point payload, since Qdrant's own filter conditions only need to
// see tenant_id/department_access/query_types/entities/verbs/active. This
// mirrors the teacher's qdrant_vector.go "stash what Qdrant can't model
// directly, index only what it must filter on" approach.
const payloadChunkField = "_chunk_json"

// QdrantDocumentStore is an alternate C2 backend for deployments that run
// Qdrant instead of pgvector, grounded on the teacher's qdrant_vector.go
// collection lifecycle and point-id derivation.
type QdrantDocumentStore struct {
	client     *qdrant.Client
	collection string
	dimensions int
}

func NewQdrantDocumentStore(dsn, collection string, dimensions int) (*QdrantDocumentStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	q := &QdrantDocumentStore{client: client, collection: collection, dimensions: dimensions}
	if err := q.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *QdrantDocumentStore) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if q.dimensions <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (q *QdrantDocumentStore) Close() error { return q.client.Close() }

func pointIDFor(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *QdrantDocumentStore) Upsert(ctx context.Context, c domain.DocumentChunk) error {
	if c.ID == "" {
		c.ID = domain.NewChunkID()
	}
	blob, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chunk payload: %w", err)
	}
	payload := map[string]any{
		payloadChunkField:   string(blob),
		"tenant_id":         c.TenantID,
		"department_access": toAnySlice(c.DepartmentAccess),
		"query_types":       toAnySlice(c.QueryTypes),
		"entities":          toAnySlice(c.Entities),
		"verbs":             toAnySlice(c.Verbs),
		"active":            c.Active,
		"importance":        int64(c.Importance),
	}
	vec := make([]float32, len(c.Embedding))
	copy(vec, c.Embedding)
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointIDFor(c.ID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

func (q *QdrantDocumentStore) SearchDocuments(ctx context.Context, query DocumentQuery) ([]domain.ScoredChunk, error) {
	if len(query.AllowedDepartments) == 0 {
		return []domain.ScoredChunk{}, nil // fail-secure
	}
	threshold := query.Threshold
	if threshold <= 0 {
		threshold = 0.6
	}
	cap := query.SafetyCap
	if cap <= 0 {
		cap = 200
	}

	must := []*qdrant.Condition{
		qdrant.NewMatch("active", true),
		qdrant.NewMatch("tenant_id", query.TenantID),
	}
	should := make([]*qdrant.Condition, 0, len(query.AllowedDepartments))
	for _, d := range query.AllowedDepartments {
		should = append(should, qdrant.NewMatch("department_access", d))
	}
	filter := &qdrant.Filter{Must: must, Should: should}

	var vec []float32
	if len(query.QueryEmbedding) > 0 {
		vec = query.QueryEmbedding
	} else {
		vec = make([]float32, q.dimensions)
	}
	limit := uint64(cap * 4)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	var out []domain.ScoredChunk
	for _, hit := range hits {
		if hit.Payload == nil {
			continue
		}
		blobVal, ok := hit.Payload[payloadChunkField]
		if !ok {
			continue
		}
		var ch domain.DocumentChunk
		if err := json.Unmarshal([]byte(blobVal.GetStringValue()), &ch); err != nil {
			continue
		}
		// Qdrant's own filter only expresses tenant/active/department_access
		// natively; intent/entity/verb overlap is applied here, the same
		// pre-score predicate the Postgres and in-memory backends apply.
		if query.Intent != "" && !contains(ch.QueryTypes, query.Intent) {
			continue
		}
		if len(query.Entities) > 0 && !overlaps(ch.Entities, query.Entities) {
			continue
		}
		if len(query.Verbs) > 0 && !overlaps(ch.Verbs, query.Verbs) {
			continue
		}
		score := 0.0
		if len(query.QueryEmbedding) > 0 {
			score = float64(hit.Score)
		}
		if ch.IsProcedure && query.Intent == "how_to" {
			score += 0.1
		}
		if len(query.QueryEmbedding) > 0 && score < threshold {
			continue
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

func (q *QdrantDocumentStore) ExpandContext(ctx context.Context, chunkID string) ([]domain.DocumentChunk, error) {
	root, err := q.getByID(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	out := []domain.DocumentChunk{root}
	for _, id := range append(append([]string{}, root.PrerequisiteIDs...), root.SeeAlsoIDs...) {
		if c, err := q.getByID(ctx, id); err == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (q *QdrantDocumentStore) getByID(ctx context.Context, id string) (domain.DocumentChunk, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(pointIDFor(id))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return domain.DocumentChunk{}, err
	}
	if len(points) == 0 {
		return domain.DocumentChunk{}, domain.ErrNotFound
	}
	blobVal, ok := points[0].Payload[payloadChunkField]
	if !ok {
		return domain.DocumentChunk{}, domain.ErrNotFound
	}
	var ch domain.DocumentChunk
	if err := json.Unmarshal([]byte(blobVal.GetStringValue()), &ch); err != nil {
		return domain.DocumentChunk{}, err
	}
	return ch, nil
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
