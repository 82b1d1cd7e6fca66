// Package ranking derives leaderboard positions from profiles and daily usage rows.
package ranking

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/cppla/usageboard/models"
)

var (
	ErrInvalidQuery = errors.New("invalid rank query")
	ErrUnknownUser  = errors.New("unknown user")
	ErrNoCountry    = errors.New("user has no country")
)

// Scope restricts the candidate set.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeCountry Scope = "country"
)

// Window selects which usage counts toward a rank.
type Window string

const (
	WindowToday Window = "today"
	Window7d    Window = "7d"
	Window30d   Window = "30d"
	WindowAll   Window = "all"
)

// ParseScope defaults to global for an empty string.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeCountry:
		return ScopeCountry, nil
	}
	return "", fmt.Errorf("%w: scope %q", ErrInvalidQuery, s)
}

// ParseWindow defaults to all for an empty string.
func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case "":
		return WindowAll, nil
	case WindowToday, Window7d, Window30d, WindowAll:
		return w, nil
	}
	return "", fmt.Errorf("%w: window %q", ErrInvalidQuery, s)
}

// days is the inclusive length of each bounded window.
func (w Window) days() int {
	switch w {
	case WindowToday:
		return 1
	case Window7d:
		return 7
	case Window30d:
		return 30
	}
	return 0
}

// Bounded reports whether the window filters daily rows by date.
func (w Window) Bounded() bool { return w.days() > 0 }

// DateRange is an inclusive [Start, End] range of YYYY-MM-DD days. Both are empty for WindowAll.
type DateRange struct {
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Timezone string `json:"timezone"`
}

func (r DateRange) String() string {
	return r.Start + ".." + r.End + "@" + r.Timezone
}

// ResolveRange computes the day range of w as seen from tz at now. An empty or unknown
// timezone resolves to UTC and the returned range reports "UTC".
func ResolveRange(w Window, tz string, now time.Time) DateRange {
	loc := resolveLocation(tz)
	r := DateRange{Timezone: loc.String()}
	n := w.days()
	if n == 0 {
		return r
	}
	local := now.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	r.End = end.Format(models.DayLayout)
	r.Start = end.AddDate(0, 0, -(n - 1)).Format(models.DayLayout)
	return r
}

func resolveLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Query describes one ranking request.
type Query struct {
	Scope    Scope
	Window   Window
	Timezone string
	// Country is required for ScopeCountry leaderboards; Rank uses the user's own country.
	Country string
}
