// Package performance provides benchmarks for the recommendation hot paths
//go:build performance
// +build performance

package performance

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/alchemorsel/mealguard/internal/application/safety"
	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/infrastructure/cache"
	"github.com/alchemorsel/mealguard/internal/infrastructure/config"
	"github.com/alchemorsel/mealguard/internal/infrastructure/knowledge"
	"github.com/alchemorsel/mealguard/internal/infrastructure/knowledge/memory"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"github.com/alchemorsel/mealguard/test/testutils"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Benchmark dataset sizes
const (
	SmallDataset  = 100
	MediumDataset = 1000
	LargeDataset  = 10000

	// MaxSearchTime is the budget for one lexical search over LargeDataset
	MaxSearchTime = 50 * time.Millisecond
)

// PerformanceMetrics holds performance measurement data
type PerformanceMetrics struct {
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	MemoryBefore runtime.MemStats
	MemoryAfter  runtime.MemStats
}

// NewPerformanceMetrics creates a new performance metrics instance
func NewPerformanceMetrics() *PerformanceMetrics {
	pm := &PerformanceMetrics{
		StartTime: time.Now(),
	}
	runtime.GC() // Force GC before measurement
	runtime.ReadMemStats(&pm.MemoryBefore)
	return pm
}

// Stop stops performance measurement
func (pm *PerformanceMetrics) Stop() {
	pm.EndTime = time.Now()
	pm.Duration = pm.EndTime.Sub(pm.StartTime)
	runtime.ReadMemStats(&pm.MemoryAfter)
}

func populatedStore(b testing.TB, n int) *memory.Store {
	factory := testutils.NewCandidateFactory(1)
	store := memory.NewStore(nil, zap.NewNop())
	docs := make([]knowledge.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, factory.CreateDocument(outbound.CollectionRecipes))
	}
	require.NoError(b, store.Add(context.Background(), docs...))
	return store
}

func BenchmarkMemorySearch(b *testing.B) {
	for _, size := range []int{SmallDataset, MediumDataset, LargeDataset} {
		store := populatedStore(b, size)
		b.Run(fmt.Sprintf("Docs%d", size), func(b *testing.B) {
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := store.SearchCollection(ctx, outbound.CollectionRecipes, "quick vegetarian lentil dinner", 6); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkFuse(b *testing.B) {
	lists := make([][]outbound.Passage, 2)
	for l := range lists {
		for i := 0; i < 50; i++ {
			lists[l] = append(lists[l], outbound.Passage{ID: fmt.Sprintf("doc-%d", (i*7+l*3)%80)})
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = knowledge.Fuse(knowledge.FusionK, 10, lists...)
	}
}

func BenchmarkSafetyRulePhase(b *testing.B) {
	factory := testutils.NewCandidateFactory(2)
	candidates := factory.CreateCandidates(10)
	intent := factory.CreateIntent(nil, []string{"vegetarian", "gluten-free"}, []string{"peanut", "shellfish"})
	constraints, err := recommendation.NewNutritionConstraints(recommendation.ConstraintsDocument{
		Avoid: []string{"candy"},
		Constraints: map[string]recommendation.Bound{
			recommendation.NutrientSodium: recommendation.MaxBound(500),
		},
	})
	require.NoError(b, err)

	model := testutils.NewScriptedModel().On(safety.Task, `{"verdicts":[]}`)
	validator := safety.NewValidator(model, zap.NewNop())
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := validator.Check(ctx, candidates, constraints, intent); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkConstraintCacheLocalHit(b *testing.B) {
	c, err := cache.NewConstraintCache(config.CacheConfig{LocalSize: 128, KeyPrefix: "bench:"}, nil, nil, zap.NewNop())
	require.NoError(b, err)
	ctx := context.Background()
	_, err = c.PutIfAbsent(ctx, "diabetes|hypertension", recommendation.PermissiveConstraints())
	require.NoError(b, err)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, ok, err := c.Get(ctx, "diabetes|hypertension"); err != nil || !ok {
				b.Fatal("expected a local hit")
			}
		}
	})
}

func TestSearchLatencyBudget(t *testing.T) {
	store := populatedStore(t, LargeDataset)

	pm := NewPerformanceMetrics()
	_, err := store.SearchCollection(context.Background(), outbound.CollectionRecipes, "quick vegetarian lentil dinner", 6)
	pm.Stop()

	require.NoError(t, err)
	require.Less(t, pm.Duration, MaxSearchTime, "lexical search over %d documents", LargeDataset)
}
