package ingest

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
)

func totalsEqual(a, b Totals) bool {
	return a.TotalTokens == b.TotalTokens && a.TotalCost.Equal(b.TotalCost) && reflect.DeepEqual(a.ModelBreakdown, b.ModelBreakdown)
}

func sampleSnapshots() (Totals, Snapshot, Snapshot) {
	base := Totals{
		TotalTokens:    500,
		TotalCost:      decimal.RequireFromString("0.5"),
		ModelBreakdown: map[string]int64{"sonnet": 400, "haiku": 100},
	}
	a := Snapshot{DeviceID: "d1", TotalTokens: 1000, TotalCost: decimal.RequireFromString("1.25"),
		ModelBreakdown: map[string]int64{"sonnet": 900}, Day: "2025-01-01"}
	b := Snapshot{DeviceID: "d2", TotalTokens: 800, TotalCost: decimal.RequireFromString("2"),
		ModelBreakdown: map[string]int64{"sonnet": 300, "opus": 50, "haiku": 150}, Day: "2025-01-01"}
	return base, a, b
}

func TestCumulativeMaxIdempotent(t *testing.T) {
	base, a, _ := sampleSnapshots()
	var p CumulativeMax
	once := p.Merge(base, a)
	twice := p.Merge(once, a)
	if !totalsEqual(once, twice) {
		t.Fatalf("merge is not idempotent: %+v vs %+v", once, twice)
	}
}

func TestCumulativeMaxCommutative(t *testing.T) {
	base, a, b := sampleSnapshots()
	var p CumulativeMax
	ab := p.Merge(p.Merge(base, a), b)
	ba := p.Merge(p.Merge(base, b), a)
	if !totalsEqual(ab, ba) {
		t.Fatalf("merge is not commutative: %+v vs %+v", ab, ba)
	}
	want := Totals{
		TotalTokens:    1000,
		TotalCost:      decimal.RequireFromString("2"),
		ModelBreakdown: map[string]int64{"sonnet": 900, "haiku": 150, "opus": 50},
	}
	if !totalsEqual(ab, want) {
		t.Errorf("unexpected merged totals %+v", ab)
	}
}

func TestCumulativeMaxMonotonic(t *testing.T) {
	base, _, _ := sampleSnapshots()
	stale := Snapshot{DeviceID: "old", TotalTokens: 10, TotalCost: decimal.Zero,
		ModelBreakdown: map[string]int64{"sonnet": 1}, Day: "2024-12-01"}
	got := CumulativeMax{}.Merge(base, stale)
	if got.TotalTokens < base.TotalTokens || got.TotalCost.LessThan(base.TotalCost) {
		t.Fatalf("totals decreased: %+v", got)
	}
	for name, v := range base.ModelBreakdown {
		if got.ModelBreakdown[name] < v {
			t.Errorf("model %s decreased from %d to %d", name, v, got.ModelBreakdown[name])
		}
	}
	if _, ok := got.ModelBreakdown["haiku"]; !ok {
		t.Errorf("keys absent from the snapshot must be kept")
	}
}

func TestCumulativeMaxDoesNotAliasInput(t *testing.T) {
	base, a, _ := sampleSnapshots()
	out := CumulativeMax{}.Merge(base, a)
	out.ModelBreakdown["sonnet"] = -1
	if base.ModelBreakdown["sonnet"] != 400 {
		t.Fatalf("merge must not share the input map")
	}
}

func TestPerDeviceOverwriteRecord(t *testing.T) {
	snap := Snapshot{DeviceID: "d1", TotalTokens: 42, TotalCost: decimal.RequireFromString("0.42"), Day: "2025-01-02"}
	rec := PerDeviceOverwrite{}.Record("u1", snap, fixedNow())
	if rec.UserID != "u1" || rec.DeviceID != "d1" || rec.Day != "2025-01-02" || rec.Tokens != 42 {
		t.Fatalf("unexpected record %+v", rec)
	}
	oc := PerDeviceOverwrite{}.OnConflict()
	if len(oc.Columns) != 3 || oc.DoNothing {
		t.Fatalf("overwrite must update on the (user, day, device) key: %+v", oc)
	}
}
