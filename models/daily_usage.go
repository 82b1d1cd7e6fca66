package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayLayout is the storage format of DailyUsageRecord.Day.
const DayLayout = "2006-01-02"

// DailyUsageRecord is one device's contribution for one calendar day.
// Day is stored as a plain string to avoid timezone/type mismatches across drivers.
type DailyUsageRecord struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    string          `gorm:"size:64;not null;uniqueIndex:idx_daily_user_day_device,priority:1" json:"user_id"`
	Day       string          `gorm:"size:10;not null;uniqueIndex:idx_daily_user_day_device,priority:2;index:idx_daily_day" json:"day"`
	DeviceID  string          `gorm:"size:128;not null;uniqueIndex:idx_daily_user_day_device,priority:3" json:"device_id"`
	Tokens    int64           `gorm:"not null;default:0" json:"tokens"`
	Cost      decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"cost"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
