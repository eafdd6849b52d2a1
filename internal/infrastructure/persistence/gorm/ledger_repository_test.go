package gorm

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type LedgerRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo *LedgerRepository
	loc  *time.Location
}

func TestLedgerRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerRepositoryTestSuite))
}

func (s *LedgerRepositoryTestSuite) SetupTest() {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(s.T().Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	s.Require().NoError(err)
	s.Require().NoError(db.AutoMigrate(AllModels()...))

	s.loc = time.FixedZone("UTC-5", -5*60*60)
	s.db = db
	s.repo = NewLedgerRepository(db, s.loc, zaptest.NewLogger(s.T()))
}

func (s *LedgerRepositoryTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	s.Require().NoError(err)
	sqlDB.Close()
}

func meal(name string, facts map[string]float64) recommendation.CandidateRecipe {
	return recommendation.CandidateRecipe{
		Name:           name,
		Ingredients:    []recommendation.Ingredient{{Name: "oats", Quantity: "1 cup"}},
		NutritionFacts: facts,
	}
}

func (s *LedgerRepositoryTestSuite) TestTotalsSumTheDay() {
	// Arrange
	ctx := context.Background()
	noon := time.Date(2026, 10, 15, 12, 0, 0, 0, s.loc)
	s.Require().NoError(s.repo.AppendEntry(ctx, "u1", meal("Oats", map[string]float64{"sugar_g": 6, "calories": 300}), noon))
	s.Require().NoError(s.repo.AppendEntry(ctx, "u1", meal("Smoothie", map[string]float64{"sugar": 9}), noon.Add(time.Hour)))
	s.Require().NoError(s.repo.AppendEntry(ctx, "u2", meal("Cake", map[string]float64{"sugar_g": 40}), noon))

	// Act
	totals, err := s.repo.TodayTotals(ctx, "u1", noon)

	// Assert
	s.Require().NoError(err)
	s.Equal(map[string]float64{"sugar_g": 15, "calories": 300}, totals)
}

func (s *LedgerRepositoryTestSuite) TestDayBoundaryUsesLedgerTimezone() {
	ctx := context.Background()
	// 23:30 local on the 14th is 04:30 UTC on the 15th
	lateNight := time.Date(2026, 10, 14, 23, 30, 0, 0, s.loc)
	s.Require().NoError(s.repo.AppendEntry(ctx, "u1", meal("Snack", map[string]float64{"sugar_g": 20}), lateNight))

	today, err := s.repo.TodayTotals(ctx, "u1", time.Date(2026, 10, 15, 9, 0, 0, 0, s.loc))
	s.Require().NoError(err)
	s.Empty(today)

	yesterday, err := s.repo.TodayTotals(ctx, "u1", lateNight.UTC())
	s.Require().NoError(err)
	s.Equal(20.0, yesterday["sugar_g"])
}

func (s *LedgerRepositoryTestSuite) TestUnknownNutrientsAreDropped() {
	ctx := context.Background()
	at := time.Date(2026, 10, 15, 8, 0, 0, 0, s.loc)

	s.Require().NoError(s.repo.AppendEntry(ctx, "u1", meal("Toast", map[string]float64{"sugar_g": 2, "vibes": 11}), at))

	entries, err := s.repo.Entries(ctx, "u1", at)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("Toast", entries[0].RecipeName)
	s.Equal(StringSlice{"1 cup oats"}, entries[0].Ingredients)
	s.Require().Len(entries[0].Nutrients, 1)
	s.Equal("sugar_g", entries[0].Nutrients[0].Nutrient)
}

func (s *LedgerRepositoryTestSuite) TestEmptyDayAndValidation() {
	ctx := context.Background()

	totals, err := s.repo.TodayTotals(ctx, "nobody", time.Now())
	s.Require().NoError(err)
	s.Empty(totals)

	s.Error(s.repo.AppendEntry(ctx, "", meal("Oats", nil), time.Now()))
	s.ErrorIs(s.repo.AppendEntry(ctx, "u1", meal(" ", nil), time.Now()), recommendation.ErrCandidateNameMissing)
	s.NoError(s.repo.HealthCheck(ctx))
}

func (s *LedgerRepositoryTestSuite) TestTotalsMatchAppendedSum() {
	faker := gofakeit.New(42)
	ctx := context.Background()
	at := time.Date(2026, 10, 15, 10, 0, 0, 0, s.loc)

	var want float64
	for i := 0; i < 20; i++ {
		v := float64(faker.Number(0, 5000)) / 100
		want += v
		s.Require().NoError(s.repo.AppendEntry(ctx, "u1", meal(faker.Dessert(), map[string]float64{"sodium_mg": v}), at))
	}

	totals, err := s.repo.TodayTotals(ctx, "u1", at)
	s.Require().NoError(err)
	s.InDelta(want, totals["sodium_mg"], 1e-6)
}

func TestCandidateToModel(t *testing.T) {
	at := time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)
	model, dropped := CandidateToModel("u1", recommendation.CandidateRecipe{
		Name:           " Lentil soup ",
		Ingredients:    []recommendation.Ingredient{{Name: "lentils"}},
		NutritionFacts: map[string]float64{"protein": 18, "protein_g": 2, "mood": 1},
		Sources:        []string{"r3"},
	}, at, time.FixedZone("UTC-5", -5*60*60))

	assert.Equal(t, "2026-10-14", model.Day)
	assert.Equal(t, "Lentil soup", model.RecipeName)
	assert.Equal(t, StringSlice{"lentils"}, model.Ingredients)
	assert.Equal(t, []string{"mood"}, dropped)
	require.Len(t, model.Nutrients, 1)
	assert.Equal(t, 20.0, model.Nutrients[0].Amount)
}
