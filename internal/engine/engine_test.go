package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"cogstream/internal/config"
	"cogstream/internal/domain"
	"cogstream/internal/ingest"
	"cogstream/internal/llm"
	"cogstream/internal/retrieve"
	"cogstream/internal/store"
	"cogstream/internal/tools"

	"github.com/stretchr/testify/require"
)

// scriptedProvider returns one canned response per call, in order, either
// as a single streamed delta or a stream error.
type scriptedProvider struct {
	responses []string
	errs      []error
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{}, errors.New("not implemented")
}

func (p *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, toolSchemas []llm.ToolSchema, model string, h llm.StreamHandler) error {
	idx := p.calls
	p.calls++
	if idx < len(p.errs) && p.errs[idx] != nil {
		return p.errs[idx]
	}
	if idx < len(p.responses) {
		h.OnDelta(p.responses[idx])
	}
	return nil
}

func newTestTwin(t *testing.T, provider llm.Provider) (*Twin, store.SessionStore, *ingest.Pipeline) {
	t.Helper()
	sessions := store.NewMemorySessionStore()
	pipeline := ingest.New(ingest.Config{BatchTimeout: time.Hour, BatchSize: 1000}, nil, nil, sessions, nil)
	t.Cleanup(pipeline.Stop)

	registry := config.NewRegistry(config.RetrievalConfig{ProcessTopK: 5, EpisodicTopK: 5}, nil)
	executor := &tools.Executor{Sessions: sessions, Retriever: &retrieve.Retriever{Sessions: sessions}, TopN: 5}

	twin := &Twin{
		Provider:  provider,
		Model:     "test-model",
		Retriever: &retrieve.Retriever{Sessions: sessions},
		Ingest:    pipeline,
		Executor:  executor,
		Registry:  registry,
		Phases:    NewPhaseTracker(),
	}
	return twin, sessions, pipeline
}

func drain(ch <-chan Chunk) []Chunk {
	var out []Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestTwin_Think_PlainTurnIngestsExchange(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"hello there"}}
	twin, sessions, pipeline := newTestTwin(t, provider)

	chunks := drain(twin.Think(context.Background(), "hi", SessionState{SessionID: "s1", Scope: domain.Scope{UserID: "u1"}}))
	require.NotEmpty(t, chunks)
	require.Equal(t, "hello there", chunks[0].Content)
	require.True(t, chunks[len(chunks)-1].Done)

	pipeline.Stop()
	recent, err := sessions.Recent(context.Background(), domain.Scope{UserID: "u1"}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "hello there", recent[0].AssistantContent)
}

func TestTwin_Think_StreamFailureYieldsErrorChunkAndPartialIngest(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("upstream down")}}
	twin, sessions, pipeline := newTestTwin(t, provider)

	chunks := drain(twin.Think(context.Background(), "hi", SessionState{SessionID: "s1", Scope: domain.Scope{UserID: "u1"}}))
	require.Len(t, chunks, 2)
	errChunk := chunks[0]
	require.Equal(t, ChunkError, errChunk.Kind)
	require.Error(t, errChunk.Err)
	require.True(t, chunks[1].Done)

	pipeline.Stop()
	recent, err := sessions.Recent(context.Background(), domain.Scope{UserID: "u1"}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.True(t, recent[0].Partial)
}

func TestTwin_Think_ToolMarkerTriggersExactlyOneSynthesisCall(t *testing.T) {
	ctx := context.Background()
	sessions := store.NewMemorySessionStore()
	_, err := sessions.RecordExchange(ctx, domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "vitamins are important", AssistantContent: "noted"})
	require.NoError(t, err)

	provider := &scriptedProvider{responses: []string{
		`let me check [GREP term="vitamins"]`,
		"vitamins came up before",
	}}
	twin, _, pipeline := newTestTwin(t, provider)
	twin.Executor.Sessions = sessions
	twin.Retriever.Sessions = sessions

	chunks := drain(twin.Think(ctx, "what about vitamins?", SessionState{SessionID: "s1", Scope: domain.Scope{UserID: "u1"}}))
	pipeline.Stop()

	require.Equal(t, 2, provider.calls)
	var sawMetadata bool
	for _, c := range chunks {
		if c.Kind == ChunkMetadata {
			sawMetadata = true
			require.Contains(t, c.ToolsUsed, domain.ToolGrep)
		}
	}
	require.True(t, sawMetadata)
}

func TestTwin_Think_RememberActionInvokesHandler(t *testing.T) {
	provider := &scriptedProvider{responses: []string{`got it [REMEMBER key="color" text="indigo"]`}}
	twin, _, pipeline := newTestTwin(t, provider)

	var gotArgs map[string]string
	twin.Actions.Remember = func(ctx context.Context, scope domain.Scope, args map[string]string) {
		gotArgs = args
	}

	drain(twin.Think(context.Background(), "my favorite color is indigo", SessionState{SessionID: "s1", Scope: domain.Scope{UserID: "u1"}}))
	pipeline.Stop()

	require.Equal(t, "indigo", gotArgs["text"])
}

func TestPhaseTracker_DefaultsToSteadyForUnknownSession(t *testing.T) {
	pt := NewPhaseTracker()
	require.Equal(t, domain.PhaseSteady, pt.Phase("never-seen"))
}

func TestPhaseTracker_UrgencySignalsCrisis(t *testing.T) {
	pt := NewPhaseTracker()
	pt.Record("s1", "", "this is urgent please help", false)
	require.Equal(t, domain.PhaseCrisis, pt.Phase("s1"))
}

func TestParseActions_ExtractsAllThreeKinds(t *testing.T) {
	text := `done [REMEMBER key="k" text="v"] [REFLECT text="noted a pattern"] [ESCALATE reason="needs human"]`
	actions := parseActions(text)
	require.Len(t, actions, 3)
	require.Equal(t, domain.ActionRemember, actions[0].Kind)
	require.Equal(t, domain.ActionReflect, actions[1].Kind)
	require.Equal(t, domain.ActionEscalate, actions[2].Kind)
	require.Equal(t, "needs human", actions[2].Args["reason"])
}
