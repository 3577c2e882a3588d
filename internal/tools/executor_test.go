package tools

import (
	"context"
	"testing"
	"time"

	"cogstream/internal/domain"
	"cogstream/internal/store"

	"github.com/stretchr/testify/require"
)

func seedSessions(t *testing.T) *store.MemorySessionStore {
	t.Helper()
	s := store.NewMemorySessionStore()
	ctx := context.Background()
	_, err := s.RecordExchange(ctx, domain.Exchange{
		SessionID: "s1", UserID: "u1",
		HumanContent: "tell me about vitamins", AssistantContent: "vitamins are essential micronutrients",
	})
	require.NoError(t, err)
	_, err = s.RecordExchange(ctx, domain.Exchange{
		SessionID: "s1", UserID: "u1",
		HumanContent: "what about minerals", AssistantContent: "minerals support bone health",
	})
	require.NoError(t, err)
	return s
}

func TestExecutor_Run_GrepAndSquirrelConcurrently(t *testing.T) {
	sessions := seedSessions(t)
	exec := &Executor{Sessions: sessions, TopN: 5}
	scope := domain.Scope{UserID: "u1"}

	draft := `[GREP term="vitamins"] [SQUIRREL timeframe="-1h"]`
	results := exec.Run(context.Background(), draft, scope)
	require.Len(t, results, 2)

	var grep, squirrel *domain.ToolInvocation
	for i := range results {
		switch results[i].Kind {
		case domain.ToolGrep:
			grep = &results[i]
		case domain.ToolSquirrel:
			squirrel = &results[i]
		}
	}
	require.NotNil(t, grep)
	require.NotNil(t, squirrel)
	require.NoError(t, grep.Err)
	require.Len(t, grep.Results, 1)
	require.Contains(t, grep.Results[0].Exchange.AssistantContent, "vitamins")
	require.NoError(t, squirrel.Err)
	require.Len(t, squirrel.Results, 2)
}

func TestExecutor_Run_NoMarkersReturnsNil(t *testing.T) {
	exec := &Executor{Sessions: seedSessions(t)}
	require.Nil(t, exec.Run(context.Background(), "plain text", domain.Scope{UserID: "u1"}))
}

func TestExecutor_Run_EmptyScopeYieldsEmptyResults(t *testing.T) {
	sessions := seedSessions(t)
	exec := &Executor{Sessions: sessions, TopN: 5}
	results := exec.Run(context.Background(), `[GREP term="vitamins"]`, domain.Scope{})
	require.Len(t, results, 1)
	require.Empty(t, results[0].Results)
}

func TestResolveTimeframe_RelativeMinutes(t *testing.T) {
	since, until, err := resolveTimeframe("-60min")
	require.NoError(t, err)
	require.True(t, until.IsZero())
	require.WithinDuration(t, time.Now().Add(-60*time.Minute), since, 2*time.Second)
}

func TestResolveTimeframe_RejectsNonRelative(t *testing.T) {
	_, _, err := resolveTimeframe("60min")
	require.Error(t, err)
}

func TestResolveTimeframe_EmptyIsNoFilter(t *testing.T) {
	since, until, err := resolveTimeframe("")
	require.NoError(t, err)
	require.True(t, since.IsZero())
	require.True(t, until.IsZero())
}

func TestFilterByWindow_ExcludesOutOfRangeExchanges(t *testing.T) {
	now := time.Now()
	in := []domain.ScoredExchange{
		{Exchange: domain.Exchange{ID: "a", CreatedAt: now.Add(-2 * time.Hour)}},
		{Exchange: domain.Exchange{ID: "b", CreatedAt: now}},
	}
	out := filterByWindow(in, now.Add(-time.Hour), time.Time{})
	require.Len(t, out, 1)
	require.Equal(t, "b", out[0].Exchange.ID)
}
