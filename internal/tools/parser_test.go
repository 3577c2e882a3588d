package tools

import (
	"testing"

	"cogstream/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestParseMarkers_AllFourKinds(t *testing.T) {
	text := `Let me check. [GREP term="vitamins"] and also [VECTOR query="nutrition"] ` +
		`plus [SQUIRREL timeframe="-60min" back=3 search="dosage"] and [EPISODIC query="supplements" timeframe="7d"]`
	invs := ParseMarkers(text)
	require.Len(t, invs, 4)
	require.Equal(t, domain.ToolGrep, invs[0].Kind)
	require.Equal(t, "vitamins", invs[0].Args["term"])
	require.Equal(t, domain.ToolVector, invs[1].Kind)
	require.Equal(t, "nutrition", invs[1].Args["query"])
	require.Equal(t, domain.ToolSquirrel, invs[2].Kind)
	require.Equal(t, "-60min", invs[2].Args["timeframe"])
	require.Equal(t, "3", invs[2].Args["back"])
	require.Equal(t, "dosage", invs[2].Args["search"])
	require.Equal(t, domain.ToolEpisodic, invs[3].Kind)
	require.Equal(t, "7d", invs[3].Args["timeframe"])
}

func TestParseMarkers_SkipsUnknownAndMalformed(t *testing.T) {
	text := `[UNKNOWN term="x"] [GREP term="ok"] [GREP no closing bracket`
	invs := ParseMarkers(text)
	require.Len(t, invs, 1)
	require.Equal(t, domain.ToolGrep, invs[0].Kind)
	require.Equal(t, "ok", invs[0].Args["term"])
}

func TestParseMarkers_NoMarkersReturnsEmpty(t *testing.T) {
	require.Empty(t, ParseMarkers("plain text, no tools here"))
}

func TestParseMarkers_IsCaseSensitive(t *testing.T) {
	text := `[grep term="x"] [Grep term="y"] [GREP term="z"]`
	invs := ParseMarkers(text)
	require.Len(t, invs, 1)
	require.Equal(t, domain.ToolGrep, invs[0].Kind)
	require.Equal(t, "z", invs[0].Args["term"])
}

func TestParseBackCount_DefaultsToOne(t *testing.T) {
	require.Equal(t, 1, parseBackCount(map[string]string{}))
	require.Equal(t, 1, parseBackCount(map[string]string{"back": "notanumber"}))
	require.Equal(t, 5, parseBackCount(map[string]string{"back": "5"}))
}
