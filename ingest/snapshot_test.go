package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeRejectsMalformed(t *testing.T) {
	ok := Snapshot{DeviceID: "d1", TotalTokens: 1, TotalCost: decimal.Zero, Day: "2025-01-01"}
	cases := map[string]func(s *Snapshot){
		"negative tokens":  func(s *Snapshot) { s.TotalTokens = -1 },
		"negative cost":    func(s *Snapshot) { s.TotalCost = decimal.RequireFromString("-0.01") },
		"missing device":   func(s *Snapshot) { s.DeviceID = "  " },
		"bad day":          func(s *Snapshot) { s.Day = "01/01/2025" },
		"future day":       func(s *Snapshot) { s.Day = "2025-01-05" },
		"negative model":   func(s *Snapshot) { s.ModelBreakdown = map[string]int64{"sonnet": -5} },
		"markup only name": func(s *Snapshot) { s.ModelBreakdown = map[string]int64{"<b></b>": 5} },
		"ampersand device": func(s *Snapshot) { s.DeviceID = "mac&pc" },
		"angle device":     func(s *Snapshot) { s.DeviceID = "dev<1" },
		"tagged device":    func(s *Snapshot) { s.DeviceID = "<i>laptop</i>" },
		"long device":      func(s *Snapshot) { s.DeviceID = strings.Repeat("d", maxDeviceIDLen+1) },
		"ampersand model":  func(s *Snapshot) { s.ModelBreakdown = map[string]int64{"a&b": 5} },
		"angle model":      func(s *Snapshot) { s.ModelBreakdown = map[string]int64{"x": 1, "x<y": 3} },
		"tagged model":     func(s *Snapshot) { s.ModelBreakdown = map[string]int64{"<i>sonnet</i>": 3} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := ok
			mutate(&s)
			if _, err := Normalize(s, fixedNow()); !errors.Is(err, ErrInvalidSnapshot) {
				t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
			}
		})
	}
}

func TestNormalizeCleansInput(t *testing.T) {
	s := Snapshot{
		DeviceID:       " laptop ",
		TotalTokens:    10,
		TotalCost:      decimal.Zero,
		Day:            "2025-01-02",
		ModelBreakdown: map[string]int64{" sonnet ": 3, "sonnet": 7, "claude-3.5/haiku": 2},
		CountryHint:    " de ",
	}
	got, err := Normalize(s, fixedNow())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.DeviceID != "laptop" {
		t.Errorf("device id not trimmed: %q", got.DeviceID)
	}
	if len(got.ModelBreakdown) != 2 || got.ModelBreakdown["sonnet"] != 7 || got.ModelBreakdown["claude-3.5/haiku"] != 2 {
		t.Errorf("names equal after trimming should keep the max: %v", got.ModelBreakdown)
	}
	if got.CountryHint != "DE" {
		t.Errorf("country hint not normalised: %q", got.CountryHint)
	}
}
