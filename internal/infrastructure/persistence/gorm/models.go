// Package gorm provides the GORM-backed nutrition ledger
package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerEntryModel is one eaten recipe. Day is the calendar date in the
// ledger's timezone, YYYY-MM-DD.
type LedgerEntryModel struct {
	ID          uuid.UUID   `gorm:"type:char(36);primaryKey"`
	UserID      string      `gorm:"type:varchar(255);not null;index:idx_ledger_user_day,priority:1"`
	Day         string      `gorm:"type:char(10);not null;index:idx_ledger_user_day,priority:2"`
	RecipeName  string      `gorm:"type:varchar(255);not null"`
	Ingredients StringSlice `gorm:"type:json"`
	Sources     StringSlice `gorm:"type:json"`
	EatenAt     time.Time   `gorm:"not null"`
	CreatedAt   time.Time

	Nutrients []LedgerNutrientModel `gorm:"foreignKey:EntryID;constraint:OnDelete:CASCADE"`
}

// TableName overrides the default table name
func (LedgerEntryModel) TableName() string { return "ledger_entries" }

// BeforeCreate hook for LedgerEntryModel
func (e *LedgerEntryModel) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// LedgerNutrientModel is one nutrient amount of an entry
type LedgerNutrientModel struct {
	ID       uint      `gorm:"primaryKey"`
	EntryID  uuid.UUID `gorm:"type:char(36);not null;index"`
	Nutrient string    `gorm:"type:varchar(32);not null"`
	Amount   float64   `gorm:"not null"`
}

// TableName overrides the default table name
func (LedgerNutrientModel) TableName() string { return "ledger_nutrients" }

// AllModels lists the models AutoMigrate manages
func AllModels() []interface{} {
	return []interface{}{&LedgerEntryModel{}, &LedgerNutrientModel{}}
}

// StringSlice custom type for JSON string arrays
type StringSlice []string

// Scan implements the sql.Scanner interface
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = StringSlice{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into StringSlice", value)
	}
}

// Value implements the driver.Valuer interface
func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
