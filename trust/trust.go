// Package trust derives a user's trust tier from tenure, activity and level.
//
// Tiers are never stored: callers build Facts from the current profile each time and
// classify them, so a tier can never be stale relative to the facts it came from.
package trust

import (
	"fmt"
	"strings"
	"time"

	"github.com/cppla/usageboard/models"
)

// Tier is an ordered trust classification; a larger value is more trusted.
type Tier int

const (
	Unverified Tier = iota
	Basic
	Established
	Trusted
	Veteran
)

var tierNames = [...]string{"unverified", "basic", "established", "trusted", "veteran"}

func (t Tier) String() string {
	if t < Unverified || t > Veteran {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier is the inverse of Tier.String.
func ParseTier(s string) (Tier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range tierNames {
		if name == s {
			return Tier(i), nil
		}
	}
	return Unverified, fmt.Errorf("unknown trust tier %q", s)
}

// Facts are the eligibility inputs of Classify.
type Facts struct {
	TenureDays   int
	ActivityDays int
	Level        int
}

// AtLeast reports whether every fact of f is >= the matching fact of min.
func (f Facts) AtLeast(min Facts) bool {
	return f.TenureDays >= min.TenureDays && f.ActivityDays >= min.ActivityDays && f.Level >= min.Level
}

type rule struct {
	tier Tier
	min  Facts
}

// rules is ordered from the highest tier down; first match wins. Every row only
// sets lower bounds, which keeps Classify monotonic in each fact.
var rules = []rule{
	{Veteran, Facts{TenureDays: 180, ActivityDays: 90, Level: 7}},
	{Trusted, Facts{TenureDays: 90, ActivityDays: 30, Level: 5}},
	{Established, Facts{TenureDays: 30, ActivityDays: 10, Level: 3}},
	{Basic, Facts{TenureDays: 7, ActivityDays: 3, Level: 1}},
}

// Classify returns the highest tier whose thresholds f meets, or Unverified.
func Classify(f Facts) Tier {
	for _, r := range rules {
		if f.AtLeast(r.min) {
			return r.tier
		}
	}
	return Unverified
}

// levelThresholds[i] is the lifetime token count needed for level i+1.
var levelThresholds = []int64{
	10_000,
	100_000,
	500_000,
	1_000_000,
	5_000_000,
	10_000_000,
	50_000_000,
	100_000_000,
	500_000_000,
	1_000_000_000,
}

// LevelForTokens maps lifetime tokens to a level in [0, 10].
func LevelForTokens(total int64) int {
	level := 0
	for _, th := range levelThresholds {
		if total < th {
			break
		}
		level++
	}
	return level
}

// FactsFor builds Facts from a profile as of now. A profile without a tenure start has zero tenure.
func FactsFor(p *models.UserProfile, now time.Time) Facts {
	f := Facts{
		ActivityDays: p.ActivityDayCount,
		Level:        LevelForTokens(p.TotalTokens),
	}
	if p.TenureStart != nil && now.After(*p.TenureStart) {
		f.TenureDays = int(now.Sub(*p.TenureStart) / (24 * time.Hour))
	}
	return f
}

// ClassifyProfile is Classify(FactsFor(p, now)).
func ClassifyProfile(p *models.UserProfile, now time.Time) Tier {
	return Classify(FactsFor(p, now))
}
