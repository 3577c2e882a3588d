// Command cogstreamd is the primary server: it wires the authgate (C9)
// in front of the WebSocket transport (C8), which drives one Cognitive
// Engine Twin (C7) per turn, backed by the document/session stores (C2,
// C3), the dual retriever (C4), the memory-ingest pipeline (C5), and the
// tool executor (C6). Construction mirrors the teacher's own daemon
// entrypoints (cmd/agentd/main.go): load env, init logging, init otel,
// build the dependency graph once, then block on ListenAndServe.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"cogstream/internal/authgate"
	"cogstream/internal/config"
	"cogstream/internal/domain"
	"cogstream/internal/embedding"
	"cogstream/internal/engine"
	"cogstream/internal/events"
	"cogstream/internal/ingest"
	"cogstream/internal/llm"
	"cogstream/internal/llm/anthropic"
	"cogstream/internal/llm/openai"
	"cogstream/internal/observability"
	"cogstream/internal/retrieve"
	"cogstream/internal/store"
	"cogstream/internal/tools"
	"cogstream/internal/transport"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	shutdown, err := observability.InitOTel(context.Background(), cfg.OTel)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init embedding client")
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.DSN != "" {
		pool, err = store.OpenPool(context.Background(), cfg.Postgres)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open postgres pool")
		}
	}

	docStore, err := buildDocumentStore(cfg, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build document store")
	}
	sessionStore, err := buildSessionStore(cfg, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build session store")
	}

	publisher, err := events.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init kafka publisher")
	}
	if publisher != nil {
		defer publisher.Close()
	}

	ingestCfg := ingest.Config{
		BatchSize:   cfg.Ingest.BatchSize,
		BatchTimeout: time.Duration(cfg.Ingest.BatchTimeoutSec) * time.Second,
	}
	pipeline := ingest.New(ingestCfg, embedder, nil, sessionStore, publisher)
	defer pipeline.Stop()

	retriever := &retrieve.Retriever{Documents: docStore, Sessions: sessionStore}

	executor := &tools.Executor{
		Sessions:  sessionStore,
		Retriever: retriever,
		Embedder:  embedder,
		Ingest:    pipeline,
	}

	provider, model := buildProvider(cfg, httpClient)

	registry := config.NewRegistry(cfg.Retrieval, nil)

	twin := &engine.Twin{
		Provider:  provider,
		Model:     model,
		Retriever: retriever,
		Embedder:  embedder,
		Ingest:    pipeline,
		Executor:  executor,
		Registry:  registry,
		Phases:    engine.NewPhaseTracker(),
		Actions:   buildActionHandlers(docStore, embedder),
	}

	gate := authgate.New(cfg.AuthGate)
	hub := transport.NewHub(gate, twin, cfg.Transport)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ready")
	})
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		sessionID := strings.TrimPrefix(r.URL.Path, "/ws/")
		if sessionID == "" {
			http.Error(w, "session id required", http.StatusBadRequest)
			return
		}
		hub.HandleWS(w, r, sessionID)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.Transport.Port)
	if cfg.Transport.Port == 0 {
		addr = fmt.Sprintf("%s:8088", cfg.Transport.Host)
	}
	log.Info().Str("addr", addr).Msg("cogstreamd listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
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

func buildProvider(cfg config.Config, httpClient *http.Client) (llm.Provider, string) {
	if cfg.LLMProvider == "openai" {
		return openai.New(cfg.OpenAI, httpClient), cfg.OpenAI.Model
	}
	return anthropic.New(cfg.Anthropic, httpClient), cfg.Anthropic.Model
}

// buildActionHandlers wires the three end-of-turn action tags (§7) to
// concrete effects. REMEMBER upserts a durable document chunk keyed by
// (tenant_id, "memory:"+key) so it resurfaces through the ordinary
// process-lane retrieval path on later turns — no separate memory store
// needed, since C2's own idempotency key already gives REMEMBER
// "write once, overwrite on same key" semantics for free. REFLECT and
// ESCALATE have no durable side effect the spec requires beyond
// surfacing to operators, so they log at a level an operator would
// actually watch for.
func buildActionHandlers(docs store.DocumentStore, embedder *embedding.Client) engine.ActionHandlers {
	return engine.ActionHandlers{
		Remember: func(ctx context.Context, scope domain.Scope, args map[string]string) {
			key := args["key"]
			text := args["text"]
			if key == "" || text == "" {
				return
			}
			var vec []float32
			if embedder != nil {
				if v, err := embedder.Embed(ctx, text); err == nil {
					vec = v
				}
			}
			chunk := domain.DocumentChunk{
				ID:         domain.NewChunkID(),
				TenantID:   scope.TenantID,
				Content:    text,
				SourceFile: "memory:" + key,
				FileHash:   "memory:" + key,
				ChunkIndex: 0,
				Importance: 5,
				Embedding:  vec,
				Active:     true,
			}
			chunk.DepartmentAccess = scope.AllowedDepartments
			if err := docs.Upsert(ctx, chunk); err != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(err).Str("key", key).Msg("engine_remember_upsert_failed")
			}
		},
		Reflect: func(ctx context.Context, scope domain.Scope, args map[string]string) {
			observability.LoggerWithTrace(ctx).Info().Str("tenant_id", scope.TenantID).Str("text", args["text"]).Msg("engine_reflect")
		},
		Escalate: func(ctx context.Context, scope domain.Scope, args map[string]string) {
			observability.LoggerWithTrace(ctx).Warn().Str("tenant_id", scope.TenantID).Str("user_id", scope.UserID).Str("reason", args["reason"]).Msg("engine_escalate")
		},
	}
}
