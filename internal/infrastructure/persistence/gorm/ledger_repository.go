package gorm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LedgerRepository implements the nutrition ledger on GORM. Days are
// bucketed in loc so "today" matches what the user sees.
type LedgerRepository struct {
	db     *gorm.DB
	loc    *time.Location
	logger *zap.Logger
}

var _ outbound.NutritionLedger = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *gorm.DB, loc *time.Location, logger *zap.Logger) *LedgerRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &LedgerRepository{db: db, loc: loc, logger: logger.Named("ledger")}
}

type nutrientTotal struct {
	Nutrient string
	Total    float64
}

// TodayTotals sums every nutrient userID logged on day's calendar date
func (r *LedgerRepository) TodayTotals(ctx context.Context, userID string, day time.Time) (map[string]float64, error) {
	var rows []nutrientTotal
	err := r.db.WithContext(ctx).
		Table("ledger_nutrients").
		Select("ledger_nutrients.nutrient AS nutrient, SUM(ledger_nutrients.amount) AS total").
		Joins("JOIN ledger_entries ON ledger_entries.id = ledger_nutrients.entry_id").
		Where("ledger_entries.user_id = ? AND ledger_entries.day = ?", userID, dayKey(day, r.loc)).
		Group("ledger_nutrients.nutrient").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger for %s: %w", userID, err)
	}

	totals := make(map[string]float64, len(rows))
	for _, row := range rows {
		totals[row.Nutrient] = row.Total
	}
	return totals, nil
}

// AppendEntry records that userID ate candidate at the given time
func (r *LedgerRepository) AppendEntry(ctx context.Context, userID string, candidate recommendation.CandidateRecipe, at time.Time) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(candidate.Name) == "" {
		return recommendation.ErrCandidateNameMissing
	}

	model, dropped := CandidateToModel(userID, candidate, at, r.loc)
	if len(dropped) > 0 {
		r.logger.Warn("Dropping unknown nutrients from ledger entry",
			zap.String("recipe", model.RecipeName),
			zap.Strings("nutrients", dropped),
		)
	}

	// entry and nutrients land together or not at all
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	r.logger.Info("Ledger entry appended",
		zap.String("user_id", userID),
		zap.String("recipe", model.RecipeName),
		zap.String("day", model.Day),
		zap.Int("nutrients", len(model.Nutrients)),
	)
	return nil
}

// Entries lists userID's entries for day, newest first
func (r *LedgerRepository) Entries(ctx context.Context, userID string, day time.Time) ([]LedgerEntryModel, error) {
	var entries []LedgerEntryModel
	err := r.db.WithContext(ctx).
		Preload("Nutrients").
		Where("user_id = ? AND day = ?", userID, dayKey(day, r.loc)).
		Order("eaten_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

// HealthCheck pings the primary database
func (r *LedgerRepository) HealthCheck(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
