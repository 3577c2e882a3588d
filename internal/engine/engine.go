// Package engine implements the Cognitive Engine/Twin (C7): the 8-step
// per-turn state machine (PHASE, RETRIEVE, PROMPT, STREAM, DETECT, PARSE
// ACTIONS, INGEST, RECORD PHASE) that turns one user input into a stream
// of chunks, mirroring the teacher's own streaming-turn orchestrators
// that sit between transport and the LLM provider.
package engine

import (
	"context"
	"fmt"
	"time"

	"cogstream/internal/config"
	"cogstream/internal/domain"
	"cogstream/internal/embedding"
	"cogstream/internal/ingest"
	"cogstream/internal/llm"
	"cogstream/internal/observability"
	"cogstream/internal/retrieve"
	"cogstream/internal/tools"
)

// ChunkKind discriminates the stream Think emits to C8.
type ChunkKind string

const (
	ChunkText     ChunkKind = "text"
	ChunkMetadata ChunkKind = "metadata"
	ChunkError    ChunkKind = "error"
)

// Chunk is one item in a Think() stream.
type Chunk struct {
	Kind      ChunkKind
	Content   string
	Done      bool
	Phase     domain.CognitivePhase
	ToolsUsed []domain.ToolKind
	Err       error
}

// ActionHandlers reacts to end-of-turn action tags (§7). A nil field
// disables that action; REMEMBER/REFLECT/ESCALATE are otherwise
// independent and any subset may be wired.
type ActionHandlers struct {
	Remember func(ctx context.Context, scope domain.Scope, args map[string]string)
	Reflect  func(ctx context.Context, scope domain.Scope, args map[string]string)
	Escalate func(ctx context.Context, scope domain.Scope, args map[string]string)
}

// SessionState carries the per-connection state C8 threads through every
// Think call for one session: which session/user/tenant this is, and
// the turn's deadline/cancellation (carried on ctx, not here).
type SessionState struct {
	SessionID string
	Scope     domain.Scope
}

// Think is the C7 contract.
type Think interface {
	Think(ctx context.Context, input string, state SessionState) <-chan Chunk
}

// Twin is the one C7 implementation behind both variants: "personal" and
// "enterprise" differ only in persona text and retrieval knobs (document-
// first weighting), resolved per tenant via Registry — not in control
// flow, so one struct implements the spec's "two variants, one contract".
type Twin struct {
	Provider  llm.Provider
	Model     string
	Retriever *retrieve.Retriever
	Embedder  *embedding.Client
	Ingest    *ingest.Pipeline
	Executor  *tools.Executor
	Registry  *config.Registry
	Phases    *PhaseTracker
	Actions   ActionHandlers

	// TenantInstructions returns any tenant-specific system prompt
	// addendum; nil means no addendum for any tenant.
	TenantInstructions func(tenantID string) string

	// HotContextAutoInject proactively runs SQUIRREL before the LLM
	// stream when the session buffer looks stale. Left false by default
	// per spec.md §9's Open Question (kept configurable, not forced on).
	HotContextAutoInject bool
	HotContextStaleAfter time.Duration

	TurnDeadline      time.Duration // default 120s
	SynthesisDeadline time.Duration // default 30s
}

func (t *Twin) turnDeadline() time.Duration {
	if t.TurnDeadline <= 0 {
		return 120 * time.Second
	}
	return t.TurnDeadline
}

func (t *Twin) synthesisDeadline() time.Duration {
	if t.SynthesisDeadline <= 0 {
		return 30 * time.Second
	}
	return t.SynthesisDeadline
}

// Think runs the full 8-step turn and streams chunks on the returned
// channel, which is always closed exactly once, with a final
// {Kind: ChunkText, Done: true} chunk unless the turn's context was
// cancelled or hit its deadline. A stream failure sends a ChunkError
// before that final chunk.
func (t *Twin) Think(ctx context.Context, input string, state SessionState) <-chan Chunk {
	out := make(chan Chunk, 8)
	go t.run(ctx, input, state, out)
	return out
}

func (t *Twin) run(ctx context.Context, input string, state SessionState, out chan<- Chunk) {
	defer close(out)

	ctx, cancel := context.WithTimeout(ctx, t.turnDeadline())
	defer cancel()
	log := observability.LoggerWithTrace(ctx)

	variant, retrievalCfg := t.Registry.Resolve(state.Scope.TenantID)

	// 1. PHASE
	phase := domain.PhaseSteady
	if t.Phases != nil {
		phase = t.Phases.Phase(state.SessionID)
	}

	// 2. RETRIEVE
	var queryEmbedding []float32
	if t.Embedder != nil {
		emb, err := t.Embedder.Embed(ctx, input)
		if err != nil {
			log.Warn().Err(err).Msg("engine_embedding_failed_degrading_to_keyword")
		} else {
			queryEmbedding = emb
		}
	}

	var snippets []promptSnippet
	if t.Retriever != nil {
		res, err := t.Retriever.Retrieve(ctx, input, queryEmbedding, state.Scope, retrievalCfg.ProcessTopK, retrievalCfg.EpisodicTopK)
		if err != nil {
			log.Warn().Err(err).Msg("engine_retrieve_failed")
		} else {
			for _, c := range res.Process {
				snippets = append(snippets, promptSnippet{tier: tierProcessVector, heading: c.Chunk.SectionTitle, body: c.Chunk.Content})
			}
			for _, e := range res.Episodic {
				snippets = append(snippets, promptSnippet{tier: tierEpisodic, body: e.Exchange.HumanContent + " => " + e.Exchange.AssistantContent})
			}
		}
	}
	if t.Ingest != nil && len(queryEmbedding) > 0 {
		sessionHits := t.Ingest.SearchSession(ctx, state.SessionID, queryEmbedding, retrievalCfg.EpisodicTopK)
		for _, h := range sessionHits {
			snippets = append(snippets, promptSnippet{tier: tierSession, body: h.Exchange.HumanContent + " => " + h.Exchange.AssistantContent})
		}
	}
	stale := t.HotContextAutoInject && t.Phases != nil && t.Phases.Stale(state.SessionID, t.hotContextStaleAfter())
	var toolsUsed []domain.ToolKind
	if stale && t.Executor != nil {
		hot := t.Executor.Run(ctx, "[SQUIRREL timeframe=\"-60min\"]", state.Scope)
		for _, inv := range hot {
			toolsUsed = append(toolsUsed, inv.Kind)
			for _, e := range inv.Results {
				snippets = append(snippets, promptSnippet{tier: tierHotTemporal, body: e.Exchange.HumanContent + " => " + e.Exchange.AssistantContent})
			}
		}
	}

	// 3. PROMPT
	var tenantInstructions string
	if t.TenantInstructions != nil {
		tenantInstructions = t.TenantInstructions(state.Scope.TenantID)
	}
	systemPrompt := buildSystemPrompt(string(variant), tenantInstructions, snippets)
	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: input},
	}

	// 4. STREAM
	draft, streamErr := t.streamChat(ctx, msgs, out)
	hadErr := streamErr != nil
	if streamErr != nil {
		out <- Chunk{Kind: ChunkError, Err: fmt.Errorf("llm stream: %w", streamErr)}
		// A disconnect/deadline cancellation means C8 already tore the
		// connection down — no further frames are wanted (§8 property 7,
		// scenario S5). Any other upstream failure still gets the
		// terminating stream_chunk{done:true} per §7's user-visible
		// behavior guarantee.
		if ctx.Err() == nil {
			out <- Chunk{Kind: ChunkText, Done: true}
		}
		t.ingestPartial(ctx, state, input, draft, true)
		return
	}

	finalText := draft

	// 5. DETECT
	if len(tools.ParseMarkers(draft)) > 0 && t.Executor != nil {
		invocations := t.Executor.Run(ctx, draft, state.Scope)
		for _, inv := range invocations {
			toolsUsed = append(toolsUsed, inv.Kind)
		}
		out <- Chunk{Kind: ChunkMetadata, Phase: phase, ToolsUsed: toolsUsed}

		anySucceeded := false
		for _, inv := range invocations {
			if inv.Err == nil && (len(inv.Results) > 0 || len(inv.ChunkResults) > 0) {
				anySucceeded = true
				break
			}
		}
		if anySucceeded {
			sctx, scancel := context.WithTimeout(ctx, t.synthesisDeadline())
			synMsgs := []llm.Message{
				{Role: "system", Content: synthesisPrompt(string(variant), draft, invocations)},
				{Role: "user", Content: input},
			}
			synthesis, synErr := t.streamChat(sctx, synMsgs, out)
			scancel()
			if synErr != nil {
				out <- Chunk{Kind: ChunkError, Err: fmt.Errorf("synthesis stream: %w", synErr)}
				if ctx.Err() == nil {
					out <- Chunk{Kind: ChunkText, Done: true}
				}
				t.ingestPartial(ctx, state, input, draft+synthesis, true)
				return
			}
			finalText = synthesis
		}
	}

	out <- Chunk{Kind: ChunkText, Done: true}

	// 6. PARSE ACTIONS
	t.handleActions(ctx, state.Scope, finalText)

	// 7. INGEST — C5.Ingest durable-writes and calls C3.RecordExchange
	// internally at its DURABLE-WRITE step; the engine does not call
	// RecordExchange a second time.
	ex := domain.Exchange{
		SessionID:        state.SessionID,
		UserID:           state.Scope.UserID,
		TenantID:         state.Scope.TenantID,
		HumanContent:     input,
		AssistantContent: finalText,
		Source:           domain.SourceChat,
		Flags:            domain.Flags{HasError: hadErr},
	}
	if t.Ingest != nil {
		t.Ingest.Ingest(ex)
	}

	// 8. RECORD PHASE
	if t.Phases != nil {
		t.Phases.Record(state.SessionID, "", input, hadErr)
	}
}

func (t *Twin) hotContextStaleAfter() time.Duration {
	if t.HotContextStaleAfter <= 0 {
		return 10 * time.Minute
	}
	return t.HotContextStaleAfter
}

// streamChat runs one streaming LLM call, forwarding deltas as ChunkText
// frames and returning the accumulated text.
func (t *Twin) streamChat(ctx context.Context, msgs []llm.Message, out chan<- Chunk) (string, error) {
	h := &streamCollector{out: out}
	err := t.Provider.ChatStream(ctx, msgs, nil, t.Model, h)
	return h.text.String(), err
}

// ingestPartial records whatever was produced before a stream failure,
// flagged partial (§7 DeadlineExceeded/UpstreamUnavailable semantics).
func (t *Twin) ingestPartial(ctx context.Context, state SessionState, input, produced string, partial bool) {
	if t.Ingest == nil {
		return
	}
	t.Ingest.Ingest(domain.Exchange{
		SessionID:        state.SessionID,
		UserID:           state.Scope.UserID,
		TenantID:         state.Scope.TenantID,
		HumanContent:     input,
		AssistantContent: produced,
		Source:           domain.SourceChat,
		Flags:            domain.Flags{HasError: true},
		Partial:          partial,
	})
}

func (t *Twin) handleActions(ctx context.Context, scope domain.Scope, text string) {
	for _, a := range parseActions(text) {
		switch a.Kind {
		case domain.ActionRemember:
			if t.Actions.Remember != nil {
				t.Actions.Remember(ctx, scope, a.Args)
			}
		case domain.ActionReflect:
			if t.Actions.Reflect != nil {
				t.Actions.Reflect(ctx, scope, a.Args)
			}
		case domain.ActionEscalate:
			if t.Actions.Escalate != nil {
				t.Actions.Escalate(ctx, scope, a.Args)
			}
		}
	}
}
