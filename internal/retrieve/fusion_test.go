package retrieve

import (
	"context"
	"testing"

	"cogstream/internal/domain"
	"cogstream/internal/store"

	"github.com/stretchr/testify/require"
)

func TestFuseExchangeRRF_UnionAndOrdering(t *testing.T) {
	a := domain.Exchange{ID: "a"}
	b := domain.Exchange{ID: "b"}
	c := domain.Exchange{ID: "c"}

	keyword := []domain.ScoredExchange{{Exchange: a}, {Exchange: b}}
	vector := []domain.ScoredExchange{{Exchange: b}, {Exchange: c}}

	out := FuseExchangeRRF(keyword, vector, FusionOptions{Alpha: 0.5, K: 60})
	require.Len(t, out, 3)
	// b appears in both lists at rank 2 (keyword) and 1 (vector) => highest score
	require.Equal(t, "b", out[0].Exchange.ID)
}

func TestFuseExchangeRRF_AlphaWeightsKeywordLane(t *testing.T) {
	a := domain.Exchange{ID: "a"}
	b := domain.Exchange{ID: "b"}
	keyword := []domain.ScoredExchange{{Exchange: a}}
	vector := []domain.ScoredExchange{{Exchange: b}}

	allKeyword := FuseExchangeRRF(keyword, vector, FusionOptions{Alpha: 1, K: 60})
	require.Equal(t, "a", allKeyword[0].Exchange.ID)

	allVector := FuseExchangeRRF(keyword, vector, FusionOptions{Alpha: 0, K: 60})
	require.Equal(t, "b", allVector[0].Exchange.ID)
}

func TestSeenExchangeIDs_FilterDropsDuplicatesAcrossLanes(t *testing.T) {
	seen := NewSeenExchangeIDs()
	first := seen.Filter([]domain.ScoredExchange{{Exchange: domain.Exchange{ID: "x"}}})
	require.Len(t, first, 1)

	second := seen.Filter([]domain.ScoredExchange{{Exchange: domain.Exchange{ID: "x"}}, {Exchange: domain.Exchange{ID: "y"}}})
	require.Len(t, second, 1)
	require.Equal(t, "y", second[0].Exchange.ID)
}

func TestRetriever_Retrieve_EmptyScopeShortCircuits(t *testing.T) {
	r := &Retriever{Sessions: store.NewMemorySessionStore()}
	res, err := r.Retrieve(context.Background(), "query", []float32{1, 0}, domain.Scope{}, 5, 5)
	require.NoError(t, err)
	require.Nil(t, res.Process)
	require.Nil(t, res.Episodic)
}

func TestRetriever_Retrieve_EpisodicHybridFusesKeywordAndVectorLanes(t *testing.T) {
	sessions := store.NewMemorySessionStore()
	ctx := context.Background()
	_, err := sessions.RecordExchange(ctx, domain.Exchange{
		SessionID: "s1", UserID: "u1", HumanContent: "my favorite color is indigo",
		AssistantContent: "noted", Embedding: []float32{1, 0, 0},
	})
	require.NoError(t, err)
	_, err = sessions.RecordExchange(ctx, domain.Exchange{
		SessionID: "s1", UserID: "u1", HumanContent: "unrelated", AssistantContent: "ok",
		Embedding: []float32{0, 1, 0},
	})
	require.NoError(t, err)

	r := &Retriever{Sessions: sessions}
	res, err := r.Retrieve(ctx, "indigo", []float32{1, 0, 0}, domain.Scope{UserID: "u1"}, 5, 5)
	require.NoError(t, err)
	require.NotEmpty(t, res.Episodic)
	require.Contains(t, res.Episodic[0].Exchange.HumanContent, "indigo")
}
