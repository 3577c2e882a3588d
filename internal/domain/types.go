// Package domain holds the value types shared across every cogstream
// component: Exchange, Document Chunk, Session, Tool Invocation, and
// Cognitive Phase. No package in internal/ should redefine these.
package domain

import "time"

// Source identifies where an Exchange originated.
type Source string

const (
	SourceChat            Source = "chat"
	SourceImportAnthropic Source = "import-anthropic"
	SourceImportOpenAI    Source = "import-openai"
	SourceOther           Source = "other"
)

// Flags are boolean annotations derived from an Exchange's content.
type Flags struct {
	HasCode        bool `json:"has_code"`
	HasError       bool `json:"has_error"`
	ActionRequired bool `json:"action_required"`
}

// Exchange is a completed turn: a (human, assistant) pair with metadata.
// Ids are content-hash derived so re-ingesting identical content is a no-op.
// Exchanges are append-only after commit except for access_count/last_accessed.
type Exchange struct {
	ID                string            `json:"id"`
	SessionID         string            `json:"session_id"`
	UserID            string            `json:"user_id,omitempty"`
	TenantID          string            `json:"tenant_id,omitempty"`
	SequenceIndex     int64             `json:"sequence_index"`
	CreatedAt         time.Time         `json:"created_at"`
	HumanContent      string            `json:"human_content"`
	AssistantContent  string            `json:"assistant_content"`
	Source            Source            `json:"source"`
	IntentType        string            `json:"intent_type,omitempty"`
	Complexity        string            `json:"complexity,omitempty"`
	TechnicalDepth    int               `json:"technical_depth"`
	EmotionalValence  string            `json:"emotional_valence,omitempty"`
	Urgency           string            `json:"urgency,omitempty"`
	ConversationMode  string            `json:"conversation_mode,omitempty"`
	Flags             Flags             `json:"flags"`
	Tags              map[string]string `json:"tags,omitempty"`
	ClusterID         int               `json:"cluster_id"`
	ClusterConfidence float64           `json:"cluster_confidence"`
	Embedding         []float32         `json:"embedding,omitempty"`
	AccessCount       int64             `json:"access_count"`
	LastAccessed      time.Time         `json:"last_accessed"`
	// TraceID correlates this exchange with the otel trace of the turn
	// that produced it. Not part of the original data model; carried for
	// the ambient logging/tracing stack.
	TraceID string `json:"trace_id,omitempty"`
	// Partial marks an exchange ingested after a stream failure or
	// deadline/disconnect abort (§7 ERROR HANDLING DESIGN).
	Partial bool `json:"partial,omitempty"`
}

// Scope gates all retrieval: (user_id, tenant_id, allowed_departments).
// At least one of UserID/TenantID must be set or every store call on this
// scope returns empty (fail-secure).
type Scope struct {
	UserID             string
	TenantID           string
	AllowedDepartments []string
	Role               string
}

// Empty reports whether this scope resolves no identity at all, meaning
// every scoped retrieval must short-circuit to an empty result.
func (s Scope) Empty() bool {
	return s.UserID == "" && s.TenantID == ""
}

// DocumentChunk is a retrieval unit from an ingested manual.
type DocumentChunk struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	DepartmentID     string    `json:"department_id,omitempty"`
	Content          string    `json:"content"`
	SectionTitle     string    `json:"section_title,omitempty"`
	SourceFile       string    `json:"source_file"`
	FileHash         string    `json:"file_hash"`
	ChunkIndex       int       `json:"chunk_index"`
	TokenCount       int       `json:"token_count"`
	Keywords         []string  `json:"keywords,omitempty"`
	Category         string    `json:"category,omitempty"`
	Subcategory      string    `json:"subcategory,omitempty"`
	QueryTypes       []string  `json:"query_types,omitempty"`
	Verbs            []string  `json:"verbs,omitempty"`
	Entities         []string  `json:"entities,omitempty"`
	Actors           []string  `json:"actors,omitempty"`
	Conditions       []string  `json:"conditions,omitempty"`
	Importance       int       `json:"importance"`
	Specificity      int       `json:"specificity"`
	Complexity       int       `json:"complexity"`
	IsProcedure      bool      `json:"is_procedure"`
	IsPolicy         bool      `json:"is_policy"`
	IsForm           bool      `json:"is_form"`
	ProcessName      string    `json:"process_name,omitempty"`
	ProcessStep      *int      `json:"process_step,omitempty"`
	SiblingIDs       []string  `json:"sibling_ids,omitempty"`
	PrerequisiteIDs  []string  `json:"prerequisite_ids,omitempty"`
	SeeAlsoIDs       []string  `json:"see_also_ids,omitempty"`
	FollowsIDs       []string  `json:"follows_ids,omitempty"`
	DepartmentAccess []string  `json:"department_access,omitempty"`
	Active           bool      `json:"active"`
	Embedding        []float32 `json:"embedding,omitempty"`
	EmbeddingModel   string    `json:"embedding_model,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ScoredChunk pairs a chunk with its ranking score from a retrieval lane.
type ScoredChunk struct {
	Chunk DocumentChunk
	Score float64
}

// ScoredExchange pairs an exchange with a ranking score from a retrieval lane.
type ScoredExchange struct {
	Exchange Exchange
	Score    float64
}

// ToolKind enumerates the four mid-stream tool markers.
type ToolKind string

const (
	ToolGrep     ToolKind = "GREP"
	ToolSquirrel ToolKind = "SQUIRREL"
	ToolVector   ToolKind = "VECTOR"
	ToolEpisodic ToolKind = "EPISODIC"
)

// ToolInvocation is one parsed-and-executed tool call. Never persisted;
// may be logged. VECTOR is the one tool whose contract is "process
// memories" (the C2 document store) rather than exchanges, so it
// populates ChunkResults instead of Results.
type ToolInvocation struct {
	Kind         ToolKind
	Args         map[string]string
	Results      []ScoredExchange
	ChunkResults []ScoredChunk
	Err          error
	LatencyMS    int64
}

// CognitivePhase is derived per-query from a session's recent retrieval/
// response pattern and influences prompt assembly.
type CognitivePhase string

const (
	PhaseExploration CognitivePhase = "exploration"
	PhaseExploitation CognitivePhase = "exploitation"
	PhaseCrisis      CognitivePhase = "crisis"
	PhaseDrift       CognitivePhase = "drift"
	PhaseSteady      CognitivePhase = "steady"
)

// EmbeddingDim is the fixed embedding dimension D referenced throughout
// the data model.
const EmbeddingDim = 1024

// ActionKind enumerates the three end-of-turn action tags the engine
// scans the final streamed text for (§7).
type ActionKind string

const (
	ActionRemember ActionKind = "REMEMBER"
	ActionReflect  ActionKind = "REFLECT"
	ActionEscalate ActionKind = "ESCALATE"
)

// ActionInvocation is one parsed `[REMEMBER ...]`/`[REFLECT ...]`/
// `[ESCALATE ...]` tag extracted from a turn's final text.
type ActionInvocation struct {
	Kind ActionKind
	Args map[string]string
}
