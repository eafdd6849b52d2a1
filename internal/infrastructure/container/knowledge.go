package container

import (
	"context"
	"fmt"
	"time"

	"github.com/alchemorsel/mealguard/internal/infrastructure/ai"
	"github.com/alchemorsel/mealguard/internal/infrastructure/cache"
	"github.com/alchemorsel/mealguard/internal/infrastructure/config"
	"github.com/alchemorsel/mealguard/internal/infrastructure/hotreload"
	"github.com/alchemorsel/mealguard/internal/infrastructure/knowledge"
	"github.com/alchemorsel/mealguard/internal/infrastructure/knowledge/memory"
	"github.com/alchemorsel/mealguard/internal/infrastructure/knowledge/postgres"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const seedDebounce = 500 * time.Millisecond

// KnowledgeStore is a searchable knowledge backend that can report its health
type KnowledgeStore interface {
	knowledge.Searcher
	HealthCheck(ctx context.Context) error
}

// seedFunc writes documents into a backend, replacing same-ID documents
type seedFunc func(ctx context.Context, docs ...knowledge.Document) error

// KnowledgeModule provides the knowledge backend and its two typed views
var KnowledgeModule = fx.Provide(
	NewKnowledgeStore,
	func(s KnowledgeStore) outbound.MedicalKnowledgeStore { return knowledge.Medical(s) },
	func(s KnowledgeStore) outbound.RecipeKnowledgeStore { return knowledge.Recipes(s) },
)

// NewKnowledgeStore opens the configured backend. Seeding runs on start and
// again whenever the seed file changes; a change to the medical guidance
// invalidates the constraint cache.
func NewKnowledgeStore(lc fx.Lifecycle, cfg *config.Config, backend *ai.Backend, constraints *cache.ConstraintCache, log *zap.Logger) (KnowledgeStore, error) {
	var embedder outbound.Embedder
	if cfg.Knowledge.EnableEmbedding {
		embedder = backend.Embedder
	}

	var (
		store KnowledgeStore
		seed  seedFunc
	)

	switch cfg.Knowledge.Backend {
	case "memory":
		s := memory.NewStore(embedder, log)
		store, seed = s, s.Add

	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		pool, err := postgres.Connect(ctx, cfg.Knowledge)
		if err != nil {
			return nil, err
		}
		s := postgres.NewStore(pool, embedder, cfg.Knowledge.EmbeddingDim, log)
		store, seed = s, s.Upsert

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if !cfg.Knowledge.AutoMigrate {
					return nil
				}
				return s.EnsureSchema(ctx)
			},
			OnStop: func(context.Context) error {
				s.Close()
				return nil
			},
		})

	default:
		return nil, fmt.Errorf("unknown knowledge backend %q", cfg.Knowledge.Backend)
	}

	if cfg.Knowledge.SeedPath != "" {
		if err := registerSeeding(lc, cfg.Knowledge.SeedPath, seed, constraints, log.Named("knowledge.seed")); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func registerSeeding(lc fx.Lifecycle, path string, seed seedFunc, constraints *cache.ConstraintCache, log *zap.Logger) error {
	load := func(ctx context.Context, path string) error {
		docs, err := knowledge.LoadSeed(path)
		if err != nil {
			return err
		}
		if err := seed(ctx, docs...); err != nil {
			return fmt.Errorf("failed to index seed %s: %w", path, err)
		}
		fingerprint := knowledge.GuidanceFingerprint(docs)
		constraints.Invalidate(fingerprint)
		log.Info("Knowledge seed indexed",
			zap.String("file", path),
			zap.Int("documents", len(docs)),
			zap.String("guidance", fingerprint),
		)
		return nil
	}

	watcher, err := hotreload.NewFileWatcher(seedDebounce, log)
	if err != nil {
		return err
	}
	if err := watcher.Watch(path, load); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := load(ctx, path); err != nil {
				return err
			}
			watcher.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			return watcher.Stop()
		},
	})
	return nil
}
