// Package container provides dependency injection configuration using Uber FX
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/alchemorsel/mealguard/internal/application/constraint"
	"github.com/alchemorsel/mealguard/internal/application/intent"
	"github.com/alchemorsel/mealguard/internal/application/recommendation"
	"github.com/alchemorsel/mealguard/internal/application/retrieval"
	"github.com/alchemorsel/mealguard/internal/application/safety"
	"github.com/alchemorsel/mealguard/internal/infrastructure/ai"
	"github.com/alchemorsel/mealguard/internal/infrastructure/cache"
	"github.com/alchemorsel/mealguard/internal/infrastructure/config"
	"github.com/alchemorsel/mealguard/internal/infrastructure/http/server"
	"github.com/alchemorsel/mealguard/internal/infrastructure/monitoring"
	"github.com/alchemorsel/mealguard/internal/infrastructure/persistence"
	gormRepo "github.com/alchemorsel/mealguard/internal/infrastructure/persistence/gorm"
	"github.com/alchemorsel/mealguard/internal/ports/inbound"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"github.com/alchemorsel/mealguard/pkg/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const healthCheckTimeout = 5 * time.Second

// ConfigPath names the configuration file. Empty searches the default locations.
type ConfigPath string

// Module provides everything the recommendation pipeline needs
var Module = fx.Options(
	ConfigModule,
	LoggerModule,
	MonitoringModule,
	AIModule,
	KnowledgeModule,
	DatabaseModule,
	CacheModule,
	PipelineModule,
	HealthModule,
	LifecycleModule,
)

// OpsModule adds the metrics and health HTTP server
var OpsModule = fx.Options(
	fx.Provide(server.NewServer),
	fx.Invoke(RegisterOpsServer),
)

// ConfigModule provides configuration
var ConfigModule = fx.Provide(
	func(path ConfigPath) (*config.Config, error) {
		return config.Load(string(path))
	},
)

// LoggerModule provides the logger and its runtime-adjustable level
var LoggerModule = fx.Provide(
	func(cfg *config.Config) (*zap.Logger, zap.AtomicLevel, error) {
		return logger.NewAtomic(logger.Config{
			Level:       cfg.App.LogLevel,
			Format:      cfg.App.LogFormat,
			Development: cfg.App.Debug,
		})
	},
)

// MonitoringModule provides metrics, tracing and the pipeline observer
var MonitoringModule = fx.Provide(
	monitoring.NewMetrics,

	func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*monitoring.TracingProvider, error) {
		tp, err := monitoring.NewTracingProvider(context.Background(), monitoring.TracingConfig{
			ServiceName:    cfg.App.Name,
			ServiceVersion: cfg.App.Version,
			Environment:    cfg.App.Environment,
			OTLPEndpoint:   cfg.Monitoring.OTLPEndpoint,
			SamplingRate:   cfg.Monitoring.SamplingRate,
			Enabled:        cfg.Monitoring.EnableTracing,
		}, log)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: tp.Shutdown})
		return tp, nil
	},

	func(lc fx.Lifecycle, cfg *config.Config, metrics *monitoring.Metrics) (*monitoring.UsageMeter, error) {
		usage, err := monitoring.NewUsageMeter(cfg.App.Name, metrics.Registry())
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: usage.Shutdown})
		return usage, nil
	},

	monitoring.NewPipelineObserver,
)

// AIModule provides the language model backend
var AIModule = fx.Provide(
	func(
		cfg *config.Config,
		metrics *monitoring.Metrics,
		tracing *monitoring.TracingProvider,
		usage *monitoring.UsageMeter,
		log *zap.Logger,
	) (*ai.Backend, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return ai.NewBackend(ctx, cfg.LLM, ai.Options{
			Metrics: metrics,
			Tracing: tracing,
			Usage:   usage,
		}, log)
	},

	func(b *ai.Backend) outbound.LanguageModel { return b.Model },

	func(b *ai.Backend, log *zap.Logger) *ai.HealthChecker {
		return ai.NewHealthChecker(b.Raw, log)
	},
)

// DatabaseModule provides the nutrition ledger
var DatabaseModule = fx.Provide(
	func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
		db, err := persistence.Open(cfg.Database, log)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			},
		})
		return db, nil
	},

	fx.Annotate(
		func(db *gorm.DB, cfg *config.Config, log *zap.Logger) *gormRepo.LedgerRepository {
			return gormRepo.NewLedgerRepository(db, cfg.Location(), log)
		},
		fx.As(fx.Self(), new(outbound.NutritionLedger)),
	),
)

// CacheModule provides the tiered constraint cache. The Redis tier is
// optional; when it is disabled or unreachable the cache is process-local.
var CacheModule = fx.Provide(
	func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *cache.RedisClient {
		if !cfg.Redis.Enabled {
			return nil
		}
		client, err := cache.NewRedisClient(cfg.Redis, log)
		if err != nil {
			log.Warn("Redis unavailable, constraint cache stays process-local", zap.Error(err))
			return nil
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
		return client
	},

	fx.Annotate(
		func(cfg *config.Config, remote *cache.RedisClient, metrics *monitoring.Metrics, log *zap.Logger) (*cache.ConstraintCache, error) {
			return cache.NewConstraintCache(cfg.Cache, remote, metrics, log)
		},
		fx.As(fx.Self(), new(outbound.ConstraintCache)),
	),
)

// PipelineModule provides the four stages and the orchestrator
var PipelineModule = fx.Provide(
	func(model outbound.LanguageModel, cfg *config.Config, log *zap.Logger) *intent.Extractor {
		return intent.NewExtractor(model, cfg.Pipeline.MaxQueryRunes, log)
	},

	func(
		medical outbound.MedicalKnowledgeStore,
		ledger outbound.NutritionLedger,
		constraintCache outbound.ConstraintCache,
		model outbound.LanguageModel,
		cfg *config.Config,
		log *zap.Logger,
	) *constraint.Resolver {
		return constraint.NewResolver(medical, ledger, constraintCache, model, constraint.Config{
			TopK:     cfg.Pipeline.MedicalTopK,
			Location: cfg.Location(),
		}, log)
	},

	func(
		store outbound.RecipeKnowledgeStore,
		model outbound.LanguageModel,
		observer *monitoring.PipelineObserver,
		cfg *config.Config,
		log *zap.Logger,
	) *retrieval.Retriever {
		return retrieval.NewRetriever(store, model, retrieval.Config{
			TopK:            cfg.Pipeline.RecipeTopK,
			CandidateCount:  cfg.Pipeline.CandidateCount,
			MaxContextChars: cfg.Pipeline.MaxContextChars,
		}, observer, log)
	},

	safety.NewValidator,

	fx.Annotate(
		func(
			extractor *intent.Extractor,
			resolver *constraint.Resolver,
			retriever *retrieval.Retriever,
			validator *safety.Validator,
			ledger outbound.NutritionLedger,
			observer *monitoring.PipelineObserver,
			tracing *monitoring.TracingProvider,
			cfg *config.Config,
			log *zap.Logger,
		) *recommendation.Service {
			return recommendation.NewService(
				recommendation.Stages{
					Intent:      extractor,
					Constraints: resolver,
					Retriever:   retriever,
					Safety:      validator,
				},
				ledger,
				recommendation.Config{
					IntentTimeout:      cfg.Pipeline.IntentTimeout,
					ConstraintsTimeout: cfg.Pipeline.ConstraintsTimeout,
					RetrievalTimeout:   cfg.Pipeline.RetrievalTimeout,
					ValidationTimeout:  cfg.Pipeline.ValidationTimeout,
					Location:           cfg.Location(),
				},
				observer,
				tracing.Tracer(),
				log,
			)
		},
		fx.As(new(inbound.RecommendationService)),
	),
)

// HealthModule provides the dependency health checks
var HealthModule = fx.Provide(
	func(
		tracing *monitoring.TracingProvider,
		model *ai.HealthChecker,
		ledger *gormRepo.LedgerRepository,
		store KnowledgeStore,
		remote *cache.RedisClient,
		log *zap.Logger,
	) *monitoring.HealthCheckManager {
		h := monitoring.NewHealthCheckManager(healthCheckTimeout, tracing, log)
		h.RegisterCheck("model", model)
		h.RegisterCheck("ledger", ledger)
		h.RegisterCheck("knowledge", store)
		if remote != nil {
			h.RegisterCheck("redis", remote)
		}
		return h
	},
)

// LifecycleModule provides lifecycle hooks
var LifecycleModule = fx.Invoke(
	RegisterLifecycleHooks,
	WatchConfig,
)

// RegisterLifecycleHooks logs start and stop and flushes the logger last
func RegisterLifecycleHooks(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("Starting MealGuard",
				zap.String("version", cfg.App.Version),
				zap.String("environment", cfg.App.Environment),
				zap.String("llm_provider", cfg.LLM.Provider),
				zap.String("knowledge_backend", cfg.Knowledge.Backend),
			)
			return nil
		},
		OnStop: func(context.Context) error {
			log.Info("MealGuard stopped")
			_ = log.Sync()
			return nil
		},
	})
}

// WatchConfig applies log level changes from the config file without a restart
func WatchConfig(path ConfigPath, level zap.AtomicLevel, log *zap.Logger) error {
	if path == "" {
		return nil
	}
	return config.Watch(string(path), log.Named("config"), func(c *config.Config) {
		next := logger.ParseLevel(c.App.LogLevel)
		if next != level.Level() {
			level.SetLevel(next)
			log.Info("Log level changed", zap.String("level", next.String()))
		}
	})
}

// RegisterOpsServer starts the ops server with the application
func RegisterOpsServer(lc fx.Lifecycle, s *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return s.Start() },
		OnStop:  s.Shutdown,
	})
}

// New builds an application around the given config file with extra options
func New(path ConfigPath, opts ...fx.Option) *fx.App {
	return fx.New(append([]fx.Option{
		fx.NopLogger,
		fx.Supply(path),
		Module,
	}, opts...)...)
}

// Validate reports wiring errors without starting anything
func Validate(path ConfigPath, opts ...fx.Option) error {
	if err := fx.ValidateApp(append([]fx.Option{fx.Supply(path), Module}, opts...)...); err != nil {
		return fmt.Errorf("invalid dependency graph: %w", err)
	}
	return nil
}
