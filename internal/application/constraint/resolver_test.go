package constraint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	apperrors "github.com/alchemorsel/mealguard/pkg/errors"
	"github.com/alchemorsel/mealguard/test/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

const diabetesGuidance = `{"avoid":["candy","regular soda"],"constraints":{"sugar":{"max":25},"fiber_g":{"min":25}},"notes":"limit added sugar"}`

type ResolverTestSuite struct {
	suite.Suite
	medical *testutils.MockMedicalStore
	ledger  *testutils.InMemoryLedger
	cache   *testutils.MapConstraintCache
	model   *testutils.ScriptedModel
	now     time.Time
}

func (s *ResolverTestSuite) SetupTest() {
	s.medical = new(testutils.MockMedicalStore)
	s.ledger = testutils.NewInMemoryLedger(time.UTC)
	s.cache = testutils.NewMapConstraintCache()
	s.model = testutils.NewScriptedModel()
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func (s *ResolverTestSuite) resolver() *Resolver {
	return NewResolver(s.medical, s.ledger, s.cache, s.model, Config{TopK: 3}, zaptest.NewLogger(s.T()))
}

func (s *ResolverTestSuite) guidance(condition string, passages ...outbound.Passage) {
	s.medical.On("Search", mock.Anything, condition+" dietary guidance", 3).Return(passages, nil)
}

func (s *ResolverTestSuite) TestBudgetAdjustment() {
	// Arrange
	s.guidance("diabetes", outbound.Passage{ID: "ada-1", Text: "Keep added sugar under 25 g per day."})
	s.model.On(Task, diabetesGuidance)
	s.ledger.Seed("user-1", s.now.Add(-3*time.Hour), map[string]float64{recommendation.NutrientSugar: 15})
	s.ledger.Seed("user-1", s.now.Add(-30*time.Hour), map[string]float64{recommendation.NutrientSugar: 40})

	// Act
	c, err := s.resolver().Resolve(context.Background(), []string{"Diabetes"}, "user-1", s.now)

	// Assert
	s.Require().NoError(err)
	sugar, ok := c.Bound(recommendation.NutrientSugar)
	s.Require().True(ok)
	s.Equal(10.0, *sugar.Max)
	fiber, _ := c.Bound(recommendation.NutrientFiber)
	s.Equal(25.0, *fiber.Min)
	s.Nil(fiber.Max)
	s.Equal([]string{"candy", "regular soda"}, c.Avoid())
}

func (s *ResolverTestSuite) TestBudgetNeverNegative() {
	s.guidance("diabetes", outbound.Passage{ID: "ada-1", Text: "sugar"})
	s.model.On(Task, diabetesGuidance)
	s.ledger.Seed("user-1", s.now, map[string]float64{recommendation.NutrientSugar: 90})

	c, err := s.resolver().Resolve(context.Background(), []string{"diabetes"}, "user-1", s.now)

	s.Require().NoError(err)
	sugar, _ := c.Bound(recommendation.NutrientSugar)
	s.Zero(*sugar.Max)
}

func (s *ResolverTestSuite) TestEmptyConditionsArePermissive() {
	c, err := s.resolver().Resolve(context.Background(), []string{" ", ""}, "user-1", s.now)

	s.Require().NoError(err)
	s.True(c.IsPermissive())
	s.medical.AssertNotCalled(s.T(), "Search", mock.Anything, mock.Anything, mock.Anything)
	s.Empty(s.model.Calls())
}

func (s *ResolverTestSuite) TestSecondCallHitsCache() {
	s.guidance("diabetes", outbound.Passage{ID: "ada-1", Text: "sugar"})
	s.model.On(Task, diabetesGuidance)
	r := s.resolver()

	first, err := r.Resolve(context.Background(), []string{"diabetes"}, "user-1", s.now)
	s.Require().NoError(err)
	second, err := r.Resolve(context.Background(), []string{"DIABETES "}, "user-2", s.now)
	s.Require().NoError(err)

	s.Equal(first.Document(), second.Document())
	s.medical.AssertNumberOfCalls(s.T(), "Search", 1)
	s.Len(s.model.CallsFor(Task), 1)
	s.Equal(1, s.cache.Writes())
}

func (s *ResolverTestSuite) TestCachedBaseIsNotAdjusted() {
	s.guidance("diabetes", outbound.Passage{ID: "ada-1", Text: "sugar"})
	s.model.On(Task, diabetesGuidance)
	s.ledger.Seed("user-1", s.now, map[string]float64{recommendation.NutrientSugar: 20})

	_, err := s.resolver().Resolve(context.Background(), []string{"diabetes"}, "user-1", s.now)
	s.Require().NoError(err)

	base, ok, _ := s.cache.Get(context.Background(), CacheKey([]string{"diabetes"}))
	s.Require().True(ok)
	sugar, _ := base.Bound(recommendation.NutrientSugar)
	s.Equal(25.0, *sugar.Max)
}

func (s *ResolverTestSuite) TestMultipleConditionsSearchedSeparately() {
	s.guidance("diabetes", outbound.Passage{ID: "shared", Text: "whole grains"}, outbound.Passage{ID: "ada-1", Text: "sugar"})
	s.guidance("hypertension", outbound.Passage{ID: "shared", Text: "whole grains"}, outbound.Passage{ID: "aha-1", Text: "sodium"})
	s.model.On(Task, `{"avoid":[],"constraints":{"sugar_g":{"max":25},"sodium":{"max":1500}}}`)

	c, err := s.resolver().Resolve(context.Background(), []string{"hypertension", "diabetes"}, "user-1", s.now)

	s.Require().NoError(err)
	s.Equal([]string{recommendation.NutrientSodium, recommendation.NutrientSugar}, c.BoundKeys())
	prompt := s.model.CallsFor(Task)[0].Prompt
	s.Contains(prompt, "[3]")
	s.NotContains(prompt, "[4]")
}

func (s *ResolverTestSuite) TestNoGuidanceFailsClosed() {
	s.guidance("rare condition")

	_, err := s.resolver().Resolve(context.Background(), []string{"rare condition"}, "user-1", s.now)

	s.True(apperrors.Is(err, apperrors.CodeRAG))
	s.Empty(s.model.Calls())
}

func (s *ResolverTestSuite) TestStoreFailureIsRAGError() {
	s.medical.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)

	_, err := s.resolver().Resolve(context.Background(), []string{"diabetes"}, "user-1", s.now)

	s.True(apperrors.Is(err, apperrors.CodeRAG))
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *ResolverTestSuite) TestMalformedGuidanceAfterRepairIsRAGError() {
	s.guidance("diabetes", outbound.Passage{ID: "ada-1", Text: "sugar"})
	s.model.On(Task, `{"avoid":[],"constraints":{"sugar_g":{"max":-5}}}`).On(Task, `{"avoid":[],"constraints":{"unobtainium":{"max":1}}}`)

	_, err := s.resolver().Resolve(context.Background(), []string{"diabetes"}, "user-1", s.now)

	s.True(apperrors.Is(err, apperrors.CodeRAG))
	s.Len(s.model.CallsFor(Task), 2)
	s.Zero(s.cache.Writes())
}

func (s *ResolverTestSuite) TestLedgerFailureIsRepositoryError() {
	s.guidance("diabetes", outbound.Passage{ID: "ada-1", Text: "sugar"})
	s.model.On(Task, diabetesGuidance)
	ledger := new(testutils.MockNutritionLedger)
	ledger.On("TodayTotals", mock.Anything, "user-1", mock.Anything).Return(nil, errors.New("disk I/O error"))

	r := NewResolver(s.medical, ledger, s.cache, s.model, Config{TopK: 3}, zaptest.NewLogger(s.T()))
	_, err := r.Resolve(context.Background(), []string{"diabetes"}, "user-1", s.now)

	s.True(apperrors.Is(err, apperrors.CodeRepository))
}

func (s *ResolverTestSuite) TestCacheFailureDegrades() {
	s.guidance("diabetes", outbound.Passage{ID: "ada-1", Text: "sugar"})
	s.model.On(Task, diabetesGuidance)
	cache := new(testutils.MockConstraintCache)
	cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, errors.New("redis down"))
	cache.On("PutIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))

	r := NewResolver(s.medical, s.ledger, cache, s.model, Config{TopK: 3}, zaptest.NewLogger(s.T()))
	c, err := r.Resolve(context.Background(), []string{"diabetes"}, "user-1", s.now)

	s.Require().NoError(err)
	_, ok := c.Bound(recommendation.NutrientSugar)
	s.True(ok)
}

func TestResolverTestSuite(t *testing.T) {
	suite.Run(t, new(ResolverTestSuite))
}

func TestResolve_ConcurrentCallsAgreeOnBase(t *testing.T) {
	medical := new(testutils.MockMedicalStore)
	medical.On("Search", mock.Anything, mock.Anything, mock.Anything).
		Return([]outbound.Passage{{ID: "ada-1", Text: "sugar"}}, nil)
	model := testutils.NewScriptedModel().On(Task, diabetesGuidance)
	cache := testutils.NewMapConstraintCache()
	r := NewResolver(medical, testutils.NewInMemoryLedger(nil), cache, model, Config{}, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	results := make([]recommendation.NutritionConstraints, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := r.Resolve(context.Background(), []string{"diabetes"}, "user", time.Now())
			assert.NoError(t, err)
			results[i] = c
		}()
	}
	wg.Wait()

	for _, c := range results[1:] {
		assert.Equal(t, results[0].Document(), c.Document())
	}
	require.Equal(t, 1, cache.Writes())
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "constraints:v1:diabetes,hypertension", CacheKey([]string{"Hypertension", "diabetes", "diabetes"}))
	assert.Equal(t, "constraints:v1:", CacheKey(nil))
}
