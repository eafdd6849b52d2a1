// Package postgres provides the PostgreSQL knowledge store: full-text
// ranking plus pgvector cosine distance, fused per query
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alchemorsel/mealguard/internal/infrastructure/config"
	"github.com/alchemorsel/mealguard/internal/infrastructure/knowledge"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	upsertQuery = `
		INSERT INTO knowledge_documents (id, collection, title, body, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			collection = EXCLUDED.collection,
			title      = EXCLUDED.title,
			body       = EXCLUDED.body,
			metadata   = EXCLUDED.metadata,
			embedding  = EXCLUDED.embedding,
			updated_at = now()`

	lexicalQuery = `
		SELECT id, collection, title, body, metadata, ts_rank(search_tsv, q) AS score
		FROM knowledge_documents, to_tsquery('english', $2) q
		WHERE collection = $1 AND search_tsv @@ q
		ORDER BY score DESC, id
		LIMIT $3`

	semanticQuery = `
		SELECT id, collection, title, body, metadata, 1 - (embedding <=> $2) AS score
		FROM knowledge_documents
		WHERE collection = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2, id
		LIMIT $3`
)

// Connect opens a pgx pool for the knowledge database
func Connect(ctx context.Context, cfg config.KnowledgeConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse knowledge dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping knowledge database: %w", err)
	}
	return pool, nil
}

// Store implements hybrid search over the knowledge_documents table
type Store struct {
	pool     *pgxpool.Pool
	embedder outbound.Embedder
	dim      int
	logger   *zap.Logger
}

var _ knowledge.Searcher = (*Store)(nil)

// NewStore creates a store on pool. embedder may be nil, in which case
// documents are stored without vectors and search is lexical only.
func NewStore(pool *pgxpool.Pool, embedder outbound.Embedder, dim int, logger *zap.Logger) *Store {
	return &Store{
		pool:     pool,
		embedder: embedder,
		dim:      dim,
		logger:   logger.Named("knowledge.postgres"),
	}
}

// EnsureSchema applies the embedded migrations
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach knowledge database: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	m, err := NewMigrator(db, s.logger)
	if err != nil {
		return err
	}
	defer m.Close()

	return m.Up()
}

// Upsert inserts or replaces docs in one batch
func (s *Store) Upsert(ctx context.Context, docs ...knowledge.Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			return err
		}

		var embedding any
		if s.embedder != nil {
			vec, err := s.embedder.Embed(ctx, d.Title+"\n"+d.Text)
			if err != nil {
				return fmt.Errorf("failed to embed document %s: %w", d.ID, err)
			}
			if s.dim > 0 && len(vec) != s.dim {
				return fmt.Errorf("document %s: embedding has %d dimensions, want %d", d.ID, len(vec), s.dim)
			}
			embedding = pgvector.NewVector(vec)
		}

		metadata := d.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		batch.Queue(upsertQuery, d.ID, string(d.Collection), d.Title, d.Text, metadata, embedding)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, d := range docs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", d.ID, err)
		}
	}

	s.logger.Info("Documents upserted", zap.Int("count", len(docs)))
	return nil
}

// SearchCollection runs the lexical and semantic halves concurrently and
// fuses them
func (s *Store) SearchCollection(ctx context.Context, collection outbound.Collection, query string, topK int) ([]outbound.Passage, error) {
	if !knowledge.KnownCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	if topK <= 0 {
		return nil, nil
	}

	var lexical, semantic []outbound.Passage
	g, gctx := errgroup.WithContext(ctx)

	if terms := knowledge.Terms(query); len(terms) > 0 {
		g.Go(func() error {
			var err error
			lexical, err = s.query(gctx, lexicalQuery, string(collection), tsQuery(terms), topK*2)
			if err != nil {
				return fmt.Errorf("lexical search: %w", err)
			}
			return nil
		})
	}

	if s.embedder != nil {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, query)
			if err != nil {
				s.logger.Warn("Query embedding failed, using lexical ranking only", zap.Error(err))
				return nil
			}
			semantic, err = s.query(gctx, semanticQuery, string(collection), pgvector.NewVector(vec), topK*2)
			if err != nil {
				return fmt.Errorf("semantic search: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return knowledge.Fuse(knowledge.FusionK, topK, lexical, semantic), nil
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]outbound.Passage, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []outbound.Passage
	for rows.Next() {
		var (
			p          outbound.Passage
			collection string
		)
		if err := rows.Scan(&p.ID, &collection, &p.Title, &p.Text, &p.Metadata, &p.Score); err != nil {
			return nil, err
		}
		p.Collection = outbound.Collection(collection)
		out = append(out, p)
	}
	return out, rows.Err()
}

// tsQuery ORs the terms so a passage matching any of them is ranked.
// Terms only ever contain letters and digits.
func tsQuery(terms []string) string {
	return strings.Join(terms, " | ")
}

// HealthCheck pings the pool
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *Store) Close() {
	s.pool.Close()
}
