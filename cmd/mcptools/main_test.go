package main

import (
	"errors"
	"testing"

	"cogstream/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestRunSingle_EmptyInvocationsYieldsZeroValueOutput(t *testing.T) {
	out := runSingle(nil)
	require.Empty(t, out.Exchanges)
	require.Empty(t, out.Chunks)
	require.Empty(t, out.Error)
}

func TestRunSingle_CarriesResultsAndLatency(t *testing.T) {
	invs := []domain.ToolInvocation{{
		Kind:      domain.ToolGrep,
		Results:   []domain.ScoredExchange{{Exchange: domain.Exchange{ID: "e1"}, Score: 1}},
		LatencyMS: 42,
	}}
	out := runSingle(invs)
	require.Len(t, out.Exchanges, 1)
	require.Equal(t, "e1", out.Exchanges[0].Exchange.ID)
	require.Equal(t, int64(42), out.LatencyMS)
	require.Empty(t, out.Error)
}

func TestRunSingle_SurfacesError(t *testing.T) {
	invs := []domain.ToolInvocation{{Kind: domain.ToolVector, Err: errors.New("embed failed")}}
	out := runSingle(invs)
	require.Equal(t, "embed failed", out.Error)
}

func TestScopeInput_ToScope(t *testing.T) {
	in := scopeInput{TenantID: "acme", UserID: "u1", AllowedDepartments: []string{"eng"}}
	scope := in.toScope()
	require.Equal(t, "acme", scope.TenantID)
	require.Equal(t, "u1", scope.UserID)
	require.Equal(t, []string{"eng"}, scope.AllowedDepartments)
}
