package engine

import (
	"strings"

	"cogstream/internal/llm"
)

// streamCollector adapts llm.StreamHandler to the engine's chunk channel:
// every text delta is forwarded immediately and also accumulated so the
// caller has the full draft once the stream closes. Tool calls, images,
// and thought summaries are provider-native features orthogonal to the
// bracketed-marker tool protocol this spec defines, so they are not
// surfaced to C8.
type streamCollector struct {
	out  chan<- Chunk
	text strings.Builder
}

func (c *streamCollector) OnDelta(content string) {
	if content == "" {
		return
	}
	c.text.WriteString(content)
	c.out <- Chunk{Kind: ChunkText, Content: content}
}

func (c *streamCollector) OnToolCall(tc llm.ToolCall) {}

func (c *streamCollector) OnImage(img llm.GeneratedImage) {}

func (c *streamCollector) OnThoughtSummary(summary string) {}
