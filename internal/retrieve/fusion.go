// Package retrieve implements C4, the dual retriever: a process lane over
// the Document Store and an episodic lane over the Session Memory Store,
// fused by Reciprocal Rank Fusion the way the teacher's rag/retrieve
// package fuses full-text and vector candidates.
package retrieve

import (
	"context"
	"math"
	"sort"
	"time"

	"cogstream/internal/domain"
	"cogstream/internal/store"
)

// FusionOptions controls the RRF blend. Alpha weights the keyword/full-text
// lane; 1-Alpha weights the vector lane. K is the RRF denominator constant.
type FusionOptions struct {
	Alpha float64
	K     int
}

func (o FusionOptions) normalized() (wft, wvec float64, k int) {
	wft = o.Alpha
	if wft < 0 {
		wft = 0
	}
	if wft > 1 {
		wft = 1
	}
	wvec = 1 - wft
	k = o.K
	if k <= 0 {
		k = 60
	}
	return
}

// FuseExchangeRRF fuses a keyword-ranked and a vector-ranked exchange list
// into one list ordered by fused score, ties broken by ID.
func FuseExchangeRRF(keyword, vector []domain.ScoredExchange, opt FusionOptions) []domain.ScoredExchange {
	wft, wvec, k := opt.normalized()

	kwPos := make(map[string]int, len(keyword))
	for i, r := range keyword {
		kwPos[r.Exchange.ID] = i + 1
	}
	vecPos := make(map[string]int, len(vector))
	for i, r := range vector {
		vecPos[r.Exchange.ID] = i + 1
	}

	byID := make(map[string]domain.Exchange, len(keyword)+len(vector))
	order := make([]string, 0, len(keyword)+len(vector))
	seen := map[string]bool{}
	add := func(ex domain.Exchange) {
		if !seen[ex.ID] {
			seen[ex.ID] = true
			order = append(order, ex.ID)
		}
		byID[ex.ID] = ex
	}
	for _, r := range keyword {
		add(r.Exchange)
	}
	for _, r := range vector {
		add(r.Exchange)
	}

	out := make([]domain.ScoredExchange, 0, len(order))
	for _, id := range order {
		fr, vr := kwPos[id], vecPos[id]
		fContrib, vContrib := 0.0, 0.0
		if fr > 0 {
			fContrib = 1.0 / float64(k+fr)
		}
		if vr > 0 {
			vContrib = 1.0 / float64(k+vr)
		}
		out = append(out, domain.ScoredExchange{
			Exchange: byID[id],
			Score:    wft*fContrib + wvec*vContrib,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Exchange.ID < out[j].Exchange.ID
	})
	return out
}

// FuseChunkRRF fuses a keyword-scored and a vector-scored chunk list by
// the same RRF rule. Nothing in this module calls it: each C2 backend
// ranks its own candidates in a single lane.
func FuseChunkRRF(keyword, vector []domain.ScoredChunk, opt FusionOptions) []domain.ScoredChunk {
	wft, wvec, k := opt.normalized()

	kwPos := make(map[string]int, len(keyword))
	for i, r := range keyword {
		kwPos[r.Chunk.ID] = i + 1
	}
	vecPos := make(map[string]int, len(vector))
	for i, r := range vector {
		vecPos[r.Chunk.ID] = i + 1
	}
	byID := make(map[string]domain.DocumentChunk, len(keyword)+len(vector))
	order := make([]string, 0, len(keyword)+len(vector))
	seen := map[string]bool{}
	add := func(c domain.DocumentChunk) {
		if !seen[c.ID] {
			seen[c.ID] = true
			order = append(order, c.ID)
		}
		byID[c.ID] = c
	}
	for _, r := range keyword {
		add(r.Chunk)
	}
	for _, r := range vector {
		add(r.Chunk)
	}

	out := make([]domain.ScoredChunk, 0, len(order))
	for _, id := range order {
		fr, vr := kwPos[id], vecPos[id]
		fContrib, vContrib := 0.0, 0.0
		if fr > 0 {
			fContrib = 1.0 / float64(k+fr)
		}
		if vr > 0 {
			vContrib = 1.0 / float64(k+vr)
		}
		out = append(out, domain.ScoredChunk{Chunk: byID[id], Score: wft*fContrib + wvec*vContrib})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	return out
}

// Query is a single C4 retrieval request.
type Query struct {
	Scope          domain.Scope
	QueryEmbedding []float32
	Intent         string
	Entities       []string
	Verbs          []string
	K              int
	Fusion         FusionOptions
}

// Retriever is the C4 contract: process lane over documents, episodic lane
// over exchanges, fused and scope-gated.
type Retriever struct {
	Documents store.DocumentStore
	Sessions  store.SessionStore
}

// RetrieveProcess runs the document (process) lane only.
func (r *Retriever) RetrieveProcess(ctx context.Context, q Query) ([]domain.ScoredChunk, error) {
	return r.Documents.SearchDocuments(ctx, store.DocumentQuery{
		QueryEmbedding:     q.QueryEmbedding,
		TenantID:           q.Scope.TenantID,
		AllowedDepartments: q.Scope.AllowedDepartments,
		Intent:             q.Intent,
		Entities:           q.Entities,
		Verbs:              q.Verbs,
	})
}

// RetrieveEpisodic runs the episodic (session memory) lane only, most
// recent first, scope-gated and fail-secure.
func (r *Retriever) RetrieveEpisodic(ctx context.Context, q Query, since time.Time) ([]domain.Exchange, error) {
	return r.Sessions.Recent(ctx, q.Scope, since, q.K)
}

// Result is the combined C4 contract response.
type Result struct {
	Process  []domain.ScoredChunk
	Episodic []domain.ScoredExchange
}

// Retrieve is the full C4 contract: Retrieve(text, query_embedding, scope,
// process_top_k, episodic_top_k) -> {process, episodic}. The scope-gate
// precedes both lanes; an empty scope returns {nil, nil} immediately. If
// queryEmbedding is nil the process lane returns empty and the episodic
// lane runs keyword-only.
func (r *Retriever) Retrieve(ctx context.Context, text string, queryEmbedding []float32, scope domain.Scope, processTopK, episodicTopK int) (Result, error) {
	if scope.Empty() {
		return Result{}, nil
	}

	var process []domain.ScoredChunk
	if len(queryEmbedding) > 0 && r.Documents != nil {
		chunks, err := r.Documents.SearchDocuments(ctx, store.DocumentQuery{
			QueryEmbedding:     queryEmbedding,
			TenantID:           scope.TenantID,
			AllowedDepartments: scope.AllowedDepartments,
		})
		if err != nil {
			return Result{}, err
		}
		if processTopK > 0 && len(chunks) > processTopK {
			chunks = chunks[:processTopK]
		}
		process = chunks
	}

	episodic, err := r.retrieveEpisodicHybrid(ctx, text, queryEmbedding, scope, episodicTopK)
	if err != nil {
		return Result{}, err
	}

	return Result{Process: process, Episodic: episodic}, nil
}

// retrieveEpisodicHybrid fuses a keyword lane (SearchKeyword) and a vector
// lane (cosine rerank of recent candidates' own embeddings) by RRF k=60,
// per spec.md §4.4's episodic-lane description.
func (r *Retriever) retrieveEpisodicHybrid(ctx context.Context, text string, queryEmbedding []float32, scope domain.Scope, topK int) ([]domain.ScoredExchange, error) {
	if topK <= 0 {
		topK = 10
	}
	candidatePool := topK * 5
	if candidatePool < 50 {
		candidatePool = 50
	}

	var keyword []domain.ScoredExchange
	if text != "" {
		kw, err := r.Sessions.SearchKeyword(ctx, scope, text, candidatePool)
		if err != nil {
			return nil, err
		}
		keyword = kw
	}

	var vector []domain.ScoredExchange
	if len(queryEmbedding) > 0 {
		recent, err := r.Sessions.Recent(ctx, scope, time.Time{}, candidatePool)
		if err != nil {
			return nil, err
		}
		vector = rankByCosine(recent, queryEmbedding)
	}

	fused := FuseExchangeRRF(keyword, vector, FusionOptions{Alpha: 0.5, K: 60})
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

func rankByCosine(exchanges []domain.Exchange, query []float32) []domain.ScoredExchange {
	var out []domain.ScoredExchange
	for _, ex := range exchanges {
		if len(ex.Embedding) == 0 {
			continue
		}
		out = append(out, domain.ScoredExchange{Exchange: ex, Score: cosineSim(query, ex.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func cosineSim(a, b []float32) float64 {
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
