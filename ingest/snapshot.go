// Package ingest merges device usage snapshots into cumulative user profiles.
package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/cppla/usageboard/models"
)

var (
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	ErrUnknownUser     = errors.New("unknown user")
)

const (
	maxDeviceIDLen  = 128
	maxModelNameLen = 128
	maxModels       = 256
	maxCountryLen   = 8
)

// Snapshot is one device's cumulative view of a user's usage, reported for a calendar day.
type Snapshot struct {
	DeviceID       string
	TotalTokens    int64
	TotalCost      decimal.Decimal
	ModelBreakdown map[string]int64
	Day            string
	// CountryHint fills an unknown profile country once; it never overwrites a known one.
	CountryHint string
}

var textPolicy = bluemonday.StrictPolicy()

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSnapshot, fmt.Sprintf(format, args...))
}

// identifier trims raw and reports whether it is stored verbatim. Values the text policy
// would rewrite are refused so distinct identifiers never share a key.
func identifier(raw string, maxLen int) (string, bool) {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxLen {
		return "", false
	}
	return id, textPolicy.Sanitize(id) == id
}

// Normalize validates s and returns a cleaned copy. Names equal after trimming keep the larger count.
func Normalize(s Snapshot, now time.Time) (Snapshot, error) {
	out := s
	device, ok := identifier(s.DeviceID, maxDeviceIDLen)
	if !ok {
		return Snapshot{}, invalid("device_id %q is not allowed", s.DeviceID)
	}
	out.DeviceID = device
	if s.TotalTokens < 0 {
		return Snapshot{}, invalid("total_tokens must be >= 0")
	}
	if s.TotalCost.IsNegative() {
		return Snapshot{}, invalid("total_cost must be >= 0")
	}

	day, err := time.Parse(models.DayLayout, strings.TrimSpace(s.Day))
	if err != nil {
		return Snapshot{}, invalid("day must be YYYY-MM-DD")
	}
	// the furthest-ahead timezone is UTC+14, so tomorrow in UTC is the latest legitimate day
	if day.After(now.UTC().AddDate(0, 0, 1)) {
		return Snapshot{}, invalid("day %s is in the future", s.Day)
	}
	out.Day = day.Format(models.DayLayout)

	if len(s.ModelBreakdown) > maxModels {
		return Snapshot{}, invalid("more than %d models", maxModels)
	}
	out.ModelBreakdown = make(map[string]int64, len(s.ModelBreakdown))
	for name, tokens := range s.ModelBreakdown {
		if tokens < 0 {
			return Snapshot{}, invalid("model %q has negative tokens", name)
		}
		clean, ok := identifier(name, maxModelNameLen)
		if !ok {
			return Snapshot{}, invalid("model name %q is not allowed", name)
		}
		if prev, ok := out.ModelBreakdown[clean]; !ok || tokens > prev {
			out.ModelBreakdown[clean] = tokens
		}
	}

	out.CountryHint = strings.ToUpper(strings.TrimSpace(s.CountryHint))
	if len(out.CountryHint) > maxCountryLen {
		out.CountryHint = ""
	}
	return out, nil
}
