// Command docingest loads process-document chunks from a JSON file into
// the C2 Document Store: it embeds each chunk's content and calls
// Upsert, using the same (tenant_id, file_hash, chunk_index) idempotency
// key the store enforces, so reruns of the same file are a no-op beyond
// the first commit. Flag/flow style grounded on cmd/embedctl/main.go
// (flag.String config overrides, fail-fast on missing required config).
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"cogstream/internal/config"
	"cogstream/internal/domain"
	"cogstream/internal/embedding"
	"cogstream/internal/observability"
	"cogstream/internal/store"
)

// sourceChunk is the author-facing input shape: everything Upsert needs
// except the generated ID, file hash, and embedding.
type sourceChunk struct {
	TenantID         string   `json:"tenant_id"`
	DepartmentID     string   `json:"department_id"`
	Content          string   `json:"content"`
	SectionTitle     string   `json:"section_title"`
	SourceFile       string   `json:"source_file"`
	ChunkIndex       int      `json:"chunk_index"`
	Keywords         []string `json:"keywords"`
	Category         string   `json:"category"`
	Subcategory      string   `json:"subcategory"`
	QueryTypes       []string `json:"query_types"`
	Verbs            []string `json:"verbs"`
	Entities         []string `json:"entities"`
	Actors           []string `json:"actors"`
	Conditions       []string `json:"conditions"`
	Importance       int      `json:"importance"`
	Specificity      int      `json:"specificity"`
	Complexity       int      `json:"complexity"`
	IsProcedure      bool     `json:"is_procedure"`
	IsPolicy         bool     `json:"is_policy"`
	IsForm           bool     `json:"is_form"`
	ProcessName      string   `json:"process_name"`
	ProcessStep      *int     `json:"process_step"`
	DepartmentAccess []string `json:"department_access"`
}

func main() {
	log.SetFlags(0)
	var (
		file      = flag.String("file", "", "path to a JSON array of document chunks (required)")
		tenantOvr = flag.String("tenant", "", "override tenant_id on every chunk in the file")
	)
	flag.Parse()

	if *file == "" {
		log.Fatal("-file is required")
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

	docs, closeDocs, err := openDocumentStore(cfg)
	if err != nil {
		log.Fatalf("open document store: %v", err)
	}
	defer closeDocs()

	data, err := readFile(*file)
	if err != nil {
		log.Fatalf("read %s: %v", *file, err)
	}
	var chunks []sourceChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		log.Fatalf("parse %s: %v", *file, err)
	}

	ctx := context.Background()
	ok, failed := 0, 0
	for _, sc := range chunks {
		if *tenantOvr != "" {
			sc.TenantID = *tenantOvr
		}
		vec, err := embedder.Embed(ctx, sc.Content)
		if err != nil {
			log.Printf("embed failed for %s#%d: %v", sc.SourceFile, sc.ChunkIndex, err)
			failed++
			continue
		}
		chunk := domain.DocumentChunk{
			ID:               domain.NewChunkID(),
			TenantID:         sc.TenantID,
			DepartmentID:     sc.DepartmentID,
			Content:          sc.Content,
			SectionTitle:     sc.SectionTitle,
			SourceFile:       sc.SourceFile,
			FileHash:         fileHash(sc.SourceFile, sc.Content),
			ChunkIndex:       sc.ChunkIndex,
			TokenCount:       estimateTokens(sc.Content),
			Keywords:         sc.Keywords,
			Category:         sc.Category,
			Subcategory:      sc.Subcategory,
			QueryTypes:       sc.QueryTypes,
			Verbs:            sc.Verbs,
			Entities:         sc.Entities,
			Actors:           sc.Actors,
			Conditions:       sc.Conditions,
			Importance:       sc.Importance,
			Specificity:      sc.Specificity,
			Complexity:       sc.Complexity,
			IsProcedure:      sc.IsProcedure,
			IsPolicy:         sc.IsPolicy,
			IsForm:           sc.IsForm,
			ProcessName:      sc.ProcessName,
			ProcessStep:      sc.ProcessStep,
			DepartmentAccess: sc.DepartmentAccess,
			Active:           true,
			Embedding:        vec,
			EmbeddingModel:   cfg.Embedding.Model,
		}
		if err := docs.Upsert(ctx, chunk); err != nil {
			log.Printf("upsert failed for %s#%d: %v", sc.SourceFile, sc.ChunkIndex, err)
			failed++
			continue
		}
		ok++
	}
	log.Printf("docingest: %d upserted, %d failed, %d total", ok, failed, len(chunks))
	if failed > 0 {
		os.Exit(1)
	}
}

func readFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func fileHash(sourceFile, content string) string {
	h := sha256.New()
	h.Write([]byte(sourceFile))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// estimateTokens approximates token count at ~4 bytes/token, matching
// the rough heuristic the teacher's own truncation logic uses elsewhere
// rather than pulling in a full tokenizer for an offline ingest tool.
func estimateTokens(content string) int {
	n := len(content) / 4
	if n == 0 && content != "" {
		n = 1
	}
	return n
}

func openDocumentStore(cfg config.Config) (store.DocumentStore, func(), error) {
	noop := func() {}
	switch {
	case cfg.Qdrant.Enabled:
		s, err := store.NewQdrantDocumentStore(cfg.Qdrant.DSN, cfg.Qdrant.Collection, cfg.Embedding.Dimensions)
		return s, noop, err
	case cfg.Postgres.DSN != "":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := store.OpenPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, noop, err
		}
		return store.NewPostgresDocumentStore(pool, cfg.Embedding.Dimensions), func() { pool.Close() }, nil
	case cfg.Bleve.IndexPath != "":
		s, err := store.NewBleveDocumentStore(cfg.Bleve.IndexPath)
		return s, noop, err
	default:
		return store.NewMemoryDocumentStore(), noop, nil
	}
}
