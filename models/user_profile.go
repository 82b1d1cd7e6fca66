package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UserProfile is the cumulative usage record of one registered identity.
// Rows are provisioned by the identity service; this service only merges usage into them.
type UserProfile struct {
	ID               string          `gorm:"primaryKey;size:64" json:"id"`
	TotalTokens      int64           `gorm:"not null;default:0;index" json:"total_tokens"`
	TotalCost        decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"total_cost"`
	ModelBreakdown   datatypes.JSON  `gorm:"type:json" json:"model_breakdown"`
	LastSync         *time.Time      `json:"last_sync"`
	GlobalRank       int             `gorm:"not null;default:0" json:"global_rank"`
	CountryRank      int             `gorm:"not null;default:0" json:"country_rank"`
	CountryCode      *string         `gorm:"size:8;index" json:"country_code"`
	TenureStart      *time.Time      `json:"tenure_start"`
	ActivityDayCount int             `gorm:"not null;default:0" json:"activity_day_count"`
	// Version guards read-modify-write merges; every accepted merge bumps it by one.
	Version   int64     `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Breakdown decodes the per-model token counters. A profile that never synced yields an empty map.
func (p *UserProfile) Breakdown() (map[string]int64, error) {
	out := map[string]int64{}
	if len(p.ModelBreakdown) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(p.ModelBreakdown, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetBreakdown encodes m into the JSON column.
func (p *UserProfile) SetBreakdown(m map[string]int64) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	p.ModelBreakdown = datatypes.JSON(b)
	return nil
}

// Country returns the country code or an empty string when unknown.
func (p *UserProfile) Country() string {
	if p.CountryCode == nil {
		return ""
	}
	return *p.CountryCode
}
