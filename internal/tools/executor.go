package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cogstream/internal/domain"
	"cogstream/internal/embedding"
	"cogstream/internal/ingest"
	"cogstream/internal/retrieve"
	"cogstream/internal/store"

	"golang.org/x/sync/errgroup"
)

// Executor is the C6 contract: detect markers in a fully-collected draft,
// run every tool concurrently under the turn's cancellation context, and
// report keyed results for exactly one synthesis call.
type Executor struct {
	Sessions  store.SessionStore
	Retriever *retrieve.Retriever
	Embedder  *embedding.Client
	Ingest    *ingest.Pipeline // session buffer; reserved for the engine's proactive hot-context SQUIRREL call
	TopN      int              // per-tool result cap, default 5
}

func (e *Executor) topN() int {
	if e.TopN <= 0 {
		return 5
	}
	return e.TopN
}

// Run parses every marker in draft, executes the distinct tools it names
// concurrently, and returns results keyed by tool name in the fixed order
// GREP, SQUIRREL, VECTOR, EPISODIC — not execution order — so synthesis
// prompts are deterministic across retries.
func (e *Executor) Run(ctx context.Context, draft string, scope domain.Scope) []domain.ToolInvocation {
	invocations := ParseMarkers(draft)
	if len(invocations) == 0 {
		return nil
	}

	// Only the first occurrence per kind is honored per turn; additional
	// occurrences of an already-seen kind are ignored.
	byKind := map[domain.ToolKind][]Invocation{}
	for _, inv := range invocations {
		if _, seen := byKind[inv.Kind]; seen {
			continue
		}
		byKind[inv.Kind] = []Invocation{inv}
	}

	// All four lanes run concurrently under the turn's cancellation
	// context; each goroutine writes to its own disjoint slot, so no lock
	// is needed for the fan-out itself. Dedup against GREP happens as a
	// post-hoc filter once every lane has reported in.
	kinds := []domain.ToolKind{domain.ToolGrep, domain.ToolSquirrel, domain.ToolVector, domain.ToolEpisodic}
	slots := make([]*domain.ToolInvocation, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for slot, kind := range kinds {
		invs, ok := byKind[kind]
		if !ok {
			continue
		}
		slot, kind, invs := slot, kind, invs
		g.Go(func() error {
			start := time.Now()
			var res domain.ToolInvocation
			switch kind {
			case domain.ToolGrep:
				res = e.runGrep(gctx, invs, scope)
			case domain.ToolSquirrel:
				res = e.runSquirrel(gctx, invs, scope)
			case domain.ToolVector:
				res = e.runVector(gctx, invs, scope)
			case domain.ToolEpisodic:
				res = e.runEpisodic(gctx, invs, scope)
			}
			res.Kind = kind
			res.LatencyMS = time.Since(start).Milliseconds()
			slots[slot] = &res
			return nil
		})
	}
	_ = g.Wait() // per-tool errors are captured on the ToolInvocation, never aborts the group

	seen := retrieve.NewSeenExchangeIDs()
	if grep := slots[0]; grep != nil {
		for _, r := range grep.Results {
			seen[r.Exchange.ID] = true
		}
	}
	// VECTOR returns document chunks (a disjoint id space from exchanges)
	// so only EPISODIC needs the seen-exchange-ids filter.
	if episodic := slots[3]; episodic != nil {
		episodic.Results = seen.Filter(episodic.Results)
	}

	out := make([]domain.ToolInvocation, 0, len(kinds))
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (e *Executor) runGrep(ctx context.Context, invs []Invocation, scope domain.Scope) domain.ToolInvocation {
	start := time.Now()
	inv := domain.ToolInvocation{Kind: domain.ToolGrep, Args: map[string]string{}}
	var all []domain.ScoredExchange
	for _, m := range invs {
		term := m.Args["term"]
		inv.Args["term"] = term
		res, err := e.Sessions.SearchKeyword(ctx, scope, term, e.topN())
		if err != nil {
			inv.Err = err
			continue
		}
		all = append(all, res...)
	}
	if len(all) > e.topN() {
		all = all[:e.topN()]
	}
	inv.Results = all
	inv.LatencyMS = time.Since(start).Milliseconds()
	return inv
}

func (e *Executor) runSquirrel(ctx context.Context, invs []Invocation, scope domain.Scope) domain.ToolInvocation {
	inv := domain.ToolInvocation{Kind: domain.ToolSquirrel, Args: map[string]string{}}
	var all []domain.ScoredExchange
	for _, m := range invs {
		for k, v := range m.Args {
			inv.Args[k] = v
		}
		since, until, err := resolveTimeframe(m.Args["timeframe"])
		if err != nil {
			inv.Err = err
			continue
		}
		back := parseBackCount(m.Args)
		limit := back * e.topN()

		var exchanges []domain.Exchange
		var fetchErr error
		if until.IsZero() {
			exchanges, fetchErr = e.Sessions.Recent(ctx, scope, since, limit)
		} else {
			exchanges, fetchErr = e.Sessions.ByTimeRange(ctx, scope, since, until, limit)
		}
		if fetchErr != nil {
			inv.Err = fetchErr
			continue
		}

		if term := m.Args["search"]; term != "" {
			exchanges = filterBySubstring(exchanges, term)
		}
		for _, ex := range exchanges {
			all = append(all, domain.ScoredExchange{Exchange: ex, Score: 1})
		}
	}
	if len(all) > e.topN() {
		all = all[:e.topN()]
	}
	inv.Results = all
	return inv
}

func (e *Executor) runVector(ctx context.Context, invs []Invocation, scope domain.Scope) domain.ToolInvocation {
	inv := domain.ToolInvocation{Kind: domain.ToolVector, Args: map[string]string{}}
	if e.Retriever == nil || e.Embedder == nil {
		inv.Err = fmt.Errorf("vector tool: retriever or embedder not configured")
		return inv
	}
	var all []domain.ScoredChunk
	for _, m := range invs {
		query := m.Args["query"]
		inv.Args["query"] = query
		emb, err := e.Embedder.Embed(ctx, query)
		if err != nil {
			inv.Err = err
			continue
		}
		res, err := e.Retriever.Retrieve(ctx, query, emb, scope, e.topN(), 0)
		if err != nil {
			inv.Err = err
			continue
		}
		all = append(all, res.Process...)
	}
	if len(all) > e.topN() {
		all = all[:e.topN()]
	}
	inv.ChunkResults = all
	return inv
}

func (e *Executor) runEpisodic(ctx context.Context, invs []Invocation, scope domain.Scope) domain.ToolInvocation {
	inv := domain.ToolInvocation{Kind: domain.ToolEpisodic, Args: map[string]string{}}
	if e.Retriever == nil || e.Embedder == nil {
		inv.Err = fmt.Errorf("episodic tool: retriever or embedder not configured")
		return inv
	}
	var all []domain.ScoredExchange
	for _, m := range invs {
		query := m.Args["query"]
		inv.Args["query"] = query
		emb, err := e.Embedder.Embed(ctx, query)
		if err != nil {
			inv.Err = err
			continue
		}
		res, err := e.Retriever.Retrieve(ctx, query, emb, scope, 0, e.topN())
		if err != nil {
			inv.Err = err
			continue
		}
		episodic := res.Episodic
		if tf := m.Args["timeframe"]; tf != "" {
			since, until, terr := resolveTimeframe(tf)
			if terr == nil {
				episodic = filterByWindow(episodic, since, until)
			}
		}
		all = append(all, episodic...)
	}
	if len(all) > e.topN() {
		all = all[:e.topN()]
	}
	inv.Results = all
	return inv
}

func filterBySubstring(exchanges []domain.Exchange, term string) []domain.Exchange {
	needle := strings.ToLower(term)
	out := make([]domain.Exchange, 0, len(exchanges))
	for _, ex := range exchanges {
		if strings.Contains(strings.ToLower(ex.HumanContent+" "+ex.AssistantContent), needle) {
			out = append(out, ex)
		}
	}
	return out
}

func filterByWindow(in []domain.ScoredExchange, since, until time.Time) []domain.ScoredExchange {
	if since.IsZero() && until.IsZero() {
		return in
	}
	out := make([]domain.ScoredExchange, 0, len(in))
	for _, r := range in {
		if !since.IsZero() && r.Exchange.CreatedAt.Before(since) {
			continue
		}
		if !until.IsZero() && r.Exchange.CreatedAt.After(until) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// resolveTimeframe parses the timeframe grammar used by SQUIRREL/EPISODIC:
// relative durations like "-60min", "-7d", "-24h", or empty for "no filter".
// Returns (since, until) where a zero until means "now, open-ended".
func resolveTimeframe(tf string) (since, until time.Time, err error) {
	tf = strings.TrimSpace(tf)
	if tf == "" {
		return time.Time{}, time.Time{}, nil
	}
	neg := strings.HasPrefix(tf, "-")
	body := strings.TrimPrefix(tf, "-")

	var n int
	var unit string
	idx := 0
	for idx < len(body) && (body[idx] >= '0' && body[idx] <= '9') {
		idx++
	}
	if idx == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("tools: invalid timeframe %q", tf)
	}
	n, err = strconv.Atoi(body[:idx])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("tools: invalid timeframe %q: %w", tf, err)
	}
	unit = body[idx:]

	var d time.Duration
	switch unit {
	case "min", "m":
		d = time.Duration(n) * time.Minute
	case "h", "hr":
		d = time.Duration(n) * time.Hour
	case "d":
		d = time.Duration(n) * 24 * time.Hour
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("tools: unknown timeframe unit %q", unit)
	}
	if !neg {
		return time.Time{}, time.Time{}, fmt.Errorf("tools: timeframe %q must be relative-past (leading '-')", tf)
	}
	now := time.Now().UTC()
	return now.Add(-d), time.Time{}, nil
}
