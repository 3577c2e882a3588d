package retrieve

import "cogstream/internal/domain"

// SeenExchangeIDs tracks exchange ids already surfaced by an earlier tool
// invocation in the same turn, so EPISODIC results never repeat what GREP
// already returned. VECTOR returns document chunks, not exchanges, and is
// not filtered.
type SeenExchangeIDs map[string]bool

func NewSeenExchangeIDs() SeenExchangeIDs { return make(SeenExchangeIDs) }

// Filter removes exchanges already marked seen and marks the rest seen.
func (s SeenExchangeIDs) Filter(in []domain.ScoredExchange) []domain.ScoredExchange {
	out := make([]domain.ScoredExchange, 0, len(in))
	for _, r := range in {
		if s[r.Exchange.ID] {
			continue
		}
		s[r.Exchange.ID] = true
		out = append(out, r)
	}
	return out
}
