// Command mcptools exposes the four C6 tool markers (GREP, SQUIRREL,
// VECTOR, EPISODIC) as standalone MCP tools, so an external agent host
// can call them directly instead of going through the WebSocket turn
// loop. Each handler synthesizes a single-marker draft string and runs
// it through the same tools.Executor the engine uses mid-turn, so the
// dedup/timeframe/topN behavior is identical either way. Grounded on
// vvoland-cagent/pkg/mcp/server.go's mcp.NewServer/mcp.AddTool/
// StdioTransport shape.
package main

import (
	"context"
	"fmt"
	"log"

	"cogstream/internal/config"
	"cogstream/internal/domain"
	"cogstream/internal/embedding"
	"cogstream/internal/observability"
	"cogstream/internal/retrieve"
	"cogstream/internal/store"
	"cogstream/internal/tools"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// scopeInput is embedded in every tool's input: the caller must identify
// itself the same way a WebSocket session's verified JWT would, since
// the stores enforce tenant/department scoping regardless of transport.
type scopeInput struct {
	TenantID           string   `json:"tenant_id" jsonschema:"tenant to scope retrieval to"`
	UserID             string   `json:"user_id,omitempty" jsonschema:"acting user id"`
	AllowedDepartments []string `json:"allowed_departments,omitempty" jsonschema:"department ids this caller may read"`
}

func (s scopeInput) toScope() domain.Scope {
	return domain.Scope{UserID: s.UserID, TenantID: s.TenantID, AllowedDepartments: s.AllowedDepartments}
}

type grepInput struct {
	scopeInput
	Term string `json:"term" jsonschema:"keyword to search recent exchanges for"`
}

type squirrelInput struct {
	scopeInput
	Timeframe string `json:"timeframe,omitempty" jsonschema:"relative-past window like -60min, -24h, -7d"`
	Back      int    `json:"back,omitempty" jsonschema:"multiplier on how many exchanges are fetched before the search filter, default 1; results stay capped at the per-tool cap"`
	Search    string `json:"search,omitempty" jsonschema:"optional substring filter over the fetched exchanges"`
}

type vectorInput struct {
	scopeInput
	Query string `json:"query" jsonschema:"natural-language query to embed and search process memory for"`
}

type episodicInput struct {
	scopeInput
	Query     string `json:"query" jsonschema:"natural-language query to embed and search past exchanges for"`
	Timeframe string `json:"timeframe,omitempty" jsonschema:"optional relative-past window to additionally filter results by"`
}

type toolOutput struct {
	Exchanges []domain.ScoredExchange `json:"exchanges,omitempty"`
	Chunks    []domain.ScoredChunk    `json:"chunks,omitempty"`
	Error     string                  `json:"error,omitempty"`
	LatencyMS int64                   `json:"latency_ms"`
}

func main() {
	log.SetFlags(0)
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		log.Fatalf("init embedding client: %v", err)
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.DSN != "" {
		pool, err = store.OpenPool(context.Background(), cfg.Postgres)
		if err != nil {
			log.Fatalf("open postgres pool: %v", err)
		}
	}

	docStore, err := buildDocumentStore(cfg, pool)
	if err != nil {
		log.Fatalf("build document store: %v", err)
	}
	sessionStore, err := buildSessionStore(cfg, pool)
	if err != nil {
		log.Fatalf("build session store: %v", err)
	}

	executor := &tools.Executor{
		Sessions:  sessionStore,
		Retriever: &retrieve.Retriever{Documents: docStore, Sessions: sessionStore},
		Embedder:  embedder,
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "cogstream-tools", Version: "0.1.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "grep",
		Description: "keyword search over a tenant's recent exchanges",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, grepHandler(executor))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "squirrel",
		Description: "fetch recent or time-windowed exchanges, optionally substring-filtered",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, squirrelHandler(executor))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "vector",
		Description: "embed a query and retrieve the nearest process-memory chunks",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, vectorHandler(executor))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "episodic",
		Description: "embed a query and retrieve the nearest past exchanges, optionally time-windowed",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, episodicHandler(executor))

	ctx := context.Background()
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}

func grepHandler(e *tools.Executor) func(context.Context, *mcp.CallToolRequest, grepInput) (*mcp.CallToolResult, toolOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in grepInput) (*mcp.CallToolResult, toolOutput, error) {
		draft := fmt.Sprintf("[GREP term=%q]", in.Term)
		return nil, runSingle(e.Run(ctx, draft, in.toScope())), nil
	}
}

func squirrelHandler(e *tools.Executor) func(context.Context, *mcp.CallToolRequest, squirrelInput) (*mcp.CallToolResult, toolOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in squirrelInput) (*mcp.CallToolResult, toolOutput, error) {
		draft := "[SQUIRREL"
		if in.Timeframe != "" {
			draft += fmt.Sprintf(" timeframe=%q", in.Timeframe)
		}
		if in.Back > 0 {
			draft += fmt.Sprintf(" back=%d", in.Back)
		}
		if in.Search != "" {
			draft += fmt.Sprintf(" search=%q", in.Search)
		}
		draft += "]"
		return nil, runSingle(e.Run(ctx, draft, in.toScope())), nil
	}
}

func vectorHandler(e *tools.Executor) func(context.Context, *mcp.CallToolRequest, vectorInput) (*mcp.CallToolResult, toolOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in vectorInput) (*mcp.CallToolResult, toolOutput, error) {
		draft := fmt.Sprintf("[VECTOR query=%q]", in.Query)
		return nil, runSingle(e.Run(ctx, draft, in.toScope())), nil
	}
}

func episodicHandler(e *tools.Executor) func(context.Context, *mcp.CallToolRequest, episodicInput) (*mcp.CallToolResult, toolOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in episodicInput) (*mcp.CallToolResult, toolOutput, error) {
		draft := fmt.Sprintf("[EPISODIC query=%q", in.Query)
		if in.Timeframe != "" {
			draft += fmt.Sprintf(" timeframe=%q", in.Timeframe)
		}
		draft += "]"
		return nil, runSingle(e.Run(ctx, draft, in.toScope())), nil
	}
}

// runSingle converts the one domain.ToolInvocation a single-marker draft
// always produces into the MCP-facing output shape.
func runSingle(invs []domain.ToolInvocation) toolOutput {
	if len(invs) == 0 {
		return toolOutput{}
	}
	inv := invs[0]
	out := toolOutput{Exchanges: inv.Results, Chunks: inv.ChunkResults, LatencyMS: inv.LatencyMS}
	if inv.Err != nil {
		out.Error = inv.Err.Error()
	}
	return out
}

func buildDocumentStore(cfg config.Config, pool *pgxpool.Pool) (store.DocumentStore, error) {
	switch {
	case cfg.Qdrant.Enabled:
		return store.NewQdrantDocumentStore(cfg.Qdrant.DSN, cfg.Qdrant.Collection, cfg.Embedding.Dimensions)
	case pool != nil:
		return store.NewPostgresDocumentStore(pool, cfg.Embedding.Dimensions), nil
	case cfg.Bleve.IndexPath != "":
		return store.NewBleveDocumentStore(cfg.Bleve.IndexPath)
	default:
		return store.NewMemoryDocumentStore(), nil
	}
}

func buildSessionStore(cfg config.Config, pool *pgxpool.Pool) (store.SessionStore, error) {
	switch {
	case pool != nil:
		return store.NewPostgresSessionStore(pool), nil
	case cfg.SQLite.Path != "":
		db, err := store.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return store.NewSQLiteSessionStore(db), nil
	default:
		return store.NewMemorySessionStore(), nil
	}
}
