package engine

import (
	"fmt"
	"strings"

	"cogstream/internal/domain"
)

// trustTier orders retrieved snippet sources from most to least
// authoritative, per spec.md §4.7 step 3: "session ≫ hot-temporal ≫
// episodic ≫ process-vector ≫ keyword".
type trustTier int

const (
	tierSession trustTier = iota
	tierHotTemporal
	tierEpisodic
	tierProcessVector
	tierKeyword
)

func (t trustTier) label() string {
	switch t {
	case tierSession:
		return "session (this turn's buffer)"
	case tierHotTemporal:
		return "hot-temporal (proactive recall)"
	case tierEpisodic:
		return "episodic (past sessions)"
	case tierProcessVector:
		return "process (reference documents)"
	case tierKeyword:
		return "keyword (lexical match)"
	default:
		return "unknown"
	}
}

// promptSnippet is one retrieved item labeled with its trust tier for
// inclusion in the assembled system prompt.
type promptSnippet struct {
	tier    trustTier
	heading string
	body    string
}

const toolProtocolBlock = `You can call four tools mid-response by emitting a bracketed marker
anywhere in your output. Arguments are key="value" pairs. At most one
occurrence per tool kind is honored per turn:

  [GREP term="..."]                 keyword search over past exchanges
  [SQUIRREL timeframe="-60min" back="1"]   recent/temporal recall
  [VECTOR query="..."]              dense search over reference documents
  [EPISODIC query="..." timeframe="-7d"]   hybrid recall over past sessions

If you emit any marker, stop your draft there; you will be given the
tool results and asked to produce a final synthesized answer.

You may also end your final answer with any of:
  [REMEMBER key="..." text="..."]   durably note a fact worth recalling
  [REFLECT text="..."]              note a self-observation about this conversation
  [ESCALATE reason="..."]           flag this turn for human follow-up`

// personaBlock returns the persona/voice preamble for a twin variant.
func personaBlock(variant string) string {
	if variant == "enterprise" {
		return "You are a corporate knowledge assistant. Prefer citing reference " +
			"documents over informal recollection; be precise, terse, and defer to " +
			"policy documents when they conflict with casual conversation history."
	}
	return "You are a personal memory-augmented assistant. Speak naturally, draw on " +
		"past conversations when relevant, and be direct."
}

// buildSystemPrompt assembles the PROMPT step's system prompt: persona,
// tenant instructions, the trust-ladder-ordered retrieved snippets, and
// the tool protocol block.
func buildSystemPrompt(variant string, tenantInstructions string, snippets []promptSnippet) string {
	var b strings.Builder
	b.WriteString(personaBlock(variant))
	b.WriteString("\n\n")
	if tenantInstructions != "" {
		b.WriteString(tenantInstructions)
		b.WriteString("\n\n")
	}

	if len(snippets) > 0 {
		b.WriteString("Retrieved context, most authoritative first:\n")
		byTier := map[trustTier][]promptSnippet{}
		for _, s := range snippets {
			byTier[s.tier] = append(byTier[s.tier], s)
		}
		for _, tier := range []trustTier{tierSession, tierHotTemporal, tierEpisodic, tierProcessVector, tierKeyword} {
			group := byTier[tier]
			if len(group) == 0 {
				continue
			}
			b.WriteString(fmt.Sprintf("\n[%s]\n", tier.label()))
			for _, s := range group {
				if s.heading != "" {
					b.WriteString("- " + s.heading + ": ")
				} else {
					b.WriteString("- ")
				}
				b.WriteString(s.body)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(toolProtocolBlock)
	return b.String()
}

// synthesisPrompt builds the one-shot synthesis system prompt after tool
// execution: each tool's results (or "unavailable" if it failed).
func synthesisPrompt(variant string, draft string, invocations []domain.ToolInvocation) string {
	var b strings.Builder
	b.WriteString(personaBlock(variant))
	b.WriteString("\n\nYour draft response paused to consult tools. Tool results follow. ")
	b.WriteString("Produce a final answer incorporating them naturally; do not mention tool names.\n\n")
	b.WriteString("Draft so far:\n")
	b.WriteString(draft)
	b.WriteString("\n\nTool results:\n")
	for _, inv := range invocations {
		b.WriteString(fmt.Sprintf("\n[%s]\n", inv.Kind))
		if inv.Err != nil {
			b.WriteString("unavailable\n")
			continue
		}
		if len(inv.Results) == 0 && len(inv.ChunkResults) == 0 {
			b.WriteString("no matches\n")
			continue
		}
		for _, r := range inv.Results {
			b.WriteString("- " + r.Exchange.HumanContent + " => " + r.Exchange.AssistantContent + "\n")
		}
		for _, c := range inv.ChunkResults {
			b.WriteString("- " + c.Chunk.Content + "\n")
		}
	}
	return b.String()
}
