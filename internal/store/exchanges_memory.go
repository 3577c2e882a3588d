package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cogstream/internal/domain"
)

// MemorySessionStore is an in-process SessionStore used by tests and local
// runs, mirroring the teacher's real (non-mock) memory-backed stores.
type MemorySessionStore struct {
	mu        sync.Mutex
	exchanges []domain.Exchange
	seqBySess map[string]int64
	seenIDs   map[string]int // index into exchanges, for idempotent re-ingest
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		seqBySess: make(map[string]int64),
		seenIDs:   make(map[string]int),
	}
}

func (m *MemorySessionStore) RecordExchange(ctx context.Context, ex domain.Exchange) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ex.ID == "" {
		ex.ID = domain.ExchangeID(ex.SessionID, ex.HumanContent, ex.AssistantContent)
	}
	if idx, ok := m.seenIDs[ex.ID]; ok {
		return m.exchanges[idx].ID, nil // idempotent no-op
	}

	m.seqBySess[ex.SessionID]++
	ex.SequenceIndex = m.seqBySess[ex.SessionID]
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	m.exchanges = append(m.exchanges, ex)
	m.seenIDs[ex.ID] = len(m.exchanges) - 1
	return ex.ID, nil
}

func (m *MemorySessionStore) Recent(ctx context.Context, scope domain.Scope, since time.Time, limit int) ([]domain.Exchange, error) {
	if scope.Empty() {
		return []domain.Exchange{}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Exchange
	for _, ex := range m.exchanges {
		if !inScope(ex, scope) {
			continue
		}
		if !since.IsZero() && ex.CreatedAt.Before(since) {
			continue
		}
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemorySessionStore) ByTimeRange(ctx context.Context, scope domain.Scope, from, to time.Time, limit int) ([]domain.Exchange, error) {
	if scope.Empty() {
		return []domain.Exchange{}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Exchange
	for _, ex := range m.exchanges {
		if !inScope(ex, scope) {
			continue
		}
		if ex.CreatedAt.Before(from) || ex.CreatedAt.After(to) {
			continue
		}
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemorySessionStore) ByIDs(ctx context.Context, scope domain.Scope, ids []string) ([]domain.Exchange, error) {
	if scope.Empty() {
		return []domain.Exchange{}, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Exchange
	for _, ex := range m.exchanges {
		if want[ex.ID] && inScope(ex, scope) {
			out = append(out, ex)
		}
	}
	return out, nil
}

func (m *MemorySessionStore) SearchKeyword(ctx context.Context, scope domain.Scope, term string, limit int) ([]domain.ScoredExchange, error) {
	if scope.Empty() || strings.TrimSpace(term) == "" {
		return []domain.ScoredExchange{}, nil
	}
	needle := strings.ToLower(term)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScoredExchange
	for _, ex := range m.exchanges {
		if !inScope(ex, scope) {
			continue
		}
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
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []domain.ScoredExchange{}
	}
	return out, nil
}

func inScope(ex domain.Exchange, scope domain.Scope) bool {
	if scope.UserID != "" && ex.UserID == scope.UserID {
		return true
	}
	if scope.TenantID != "" && ex.TenantID == scope.TenantID {
		return true
	}
	return false
}
