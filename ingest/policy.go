package ingest

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"

	"github.com/cppla/usageboard/models"
)

// Totals are the cumulative, monotonic fields of a profile.
type Totals struct {
	TotalTokens    int64            `json:"total_tokens"`
	TotalCost      decimal.Decimal  `json:"total_cost"`
	ModelBreakdown map[string]int64 `json:"model_breakdown"`
}

// CumulativeMax reduces device snapshots into profile totals by taking the maximum of every
// field. Devices report overlapping lifetime views, so totals are never summed across devices.
type CumulativeMax struct{}

// Merge returns the merged totals. Breakdown keys missing from snap are left untouched.
func (CumulativeMax) Merge(cur Totals, snap Snapshot) Totals {
	out := Totals{
		TotalTokens:    cur.TotalTokens,
		TotalCost:      cur.TotalCost,
		ModelBreakdown: make(map[string]int64, len(cur.ModelBreakdown)+len(snap.ModelBreakdown)),
	}
	if snap.TotalTokens > out.TotalTokens {
		out.TotalTokens = snap.TotalTokens
	}
	if snap.TotalCost.GreaterThan(out.TotalCost) {
		out.TotalCost = snap.TotalCost
	}
	for name, tokens := range cur.ModelBreakdown {
		out.ModelBreakdown[name] = tokens
	}
	for name, tokens := range snap.ModelBreakdown {
		if prev, ok := out.ModelBreakdown[name]; !ok || tokens > prev {
			out.ModelBreakdown[name] = tokens
		}
	}
	return out
}

// PerDeviceOverwrite stores a snapshot as the device's contribution for its day. A resubmission
// for the same (user, day, device) replaces the previous row instead of accumulating.
type PerDeviceOverwrite struct{}

// Record builds the daily row for snap.
func (PerDeviceOverwrite) Record(userID string, snap Snapshot, now time.Time) models.DailyUsageRecord {
	return models.DailyUsageRecord{
		UserID:    userID,
		Day:       snap.Day,
		DeviceID:  snap.DeviceID,
		Tokens:    snap.TotalTokens,
		Cost:      snap.TotalCost,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// OnConflict is the upsert clause that overwrites the existing row for the same key.
func (PerDeviceOverwrite) OnConflict() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}, {Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tokens", "cost", "updated_at"}),
	}
}
