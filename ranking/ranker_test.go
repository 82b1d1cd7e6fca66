package ranking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/usageboard/config"
	"github.com/cppla/usageboard/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := config.OpenDatabase(config.AppConfig{
		DBDriver:    "sqlite",
		DatabaseURI: fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		LogLevel:    "silent",
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := config.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func addUser(t *testing.T, db *gorm.DB, id string, total int64, country string) {
	t.Helper()
	p := models.UserProfile{ID: id, TotalTokens: total}
	if country != "" {
		p.CountryCode = &country
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("Failed to insert user %s: %v", id, err)
	}
}

func addDaily(t *testing.T, db *gorm.DB, user, day, device string, tokens int64) {
	t.Helper()
	rec := models.DailyUsageRecord{UserID: user, Day: day, DeviceID: device, Tokens: tokens}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("Failed to insert daily row: %v", err)
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	return b, ok
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = value
}

var newYearEvening = time.Date(2025, 1, 1, 18, 0, 0, 0, time.UTC)

func newTestRanker(db *gorm.DB, opts Options) *Ranker {
	if opts.Now == nil {
		opts.Now = func() time.Time { return newYearEvening }
	}
	return NewRanker(db, opts)
}

func ids(b Board) []string {
	out := make([]string, 0, len(b.Users))
	for _, u := range b.Users {
		out = append(out, u.ID)
	}
	return out
}

func TestTodaySumsDevicesOfTheSameDay(t *testing.T) {
	db := setupTestDB(t)
	addUser(t, db, "u1", 1500, "")
	addUser(t, db, "u2", 2000, "")
	addDaily(t, db, "u1", "2025-01-01", "D1", 1000)
	addDaily(t, db, "u1", "2025-01-01", "D2", 1500)
	addDaily(t, db, "u2", "2025-01-01", "D1", 2000)
	r := newTestRanker(db, Options{})

	board, err := r.Leaderboard(context.Background(), Query{Scope: ScopeGlobal, Window: WindowToday}, 10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(board.Users) != 2 || board.Users[0].ID != "u1" || board.Users[0].WindowedTotal != 2500 {
		t.Fatalf("expected u1 first with 2500, got %+v", board.Users)
	}

	all, err := r.Rank(context.Background(), "u1", Query{Scope: ScopeGlobal, Window: WindowAll})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if all.Rank != 2 || all.WindowedTotal != 1500 {
		t.Fatalf("lifetime rank uses the profile max: %+v", all)
	}
}

func TestLeaderboardIsDeterministic(t *testing.T) {
	db := setupTestDB(t)
	for _, id := range []string{"carol", "alice", "bob"} {
		addUser(t, db, id, 100, "")
	}
	addUser(t, db, "dave", 50, "")
	r := newTestRanker(db, Options{})
	q := Query{Scope: ScopeGlobal, Window: WindowAll}

	first, err := r.Leaderboard(context.Background(), q, 10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	want := []string{"alice", "bob", "carol", "dave"}
	if got := ids(first); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Leaderboard(context.Background(), q, 10)
		if err != nil {
			t.Fatalf("Leaderboard: %v", err)
		}
		if strings.Join(ids(again), ",") != strings.Join(want, ",") {
			t.Fatalf("repeat %d changed order: %v", i, ids(again))
		}
	}

	pos, err := r.Rank(context.Background(), "bob", q)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if pos.Rank != 2 || pos.TotalInScope != 4 {
		t.Fatalf("rank must agree with the board: %+v", pos)
	}
}

func TestSevenDayWindowBounds(t *testing.T) {
	db := setupTestDB(t)
	addUser(t, db, "u1", 0, "")
	addUser(t, db, "u2", 0, "")
	addDaily(t, db, "u1", "2024-12-25", "D1", 900)
	addDaily(t, db, "u1", "2024-12-26", "D1", 100)
	addDaily(t, db, "u2", "2025-01-01", "D1", 150)
	r := newTestRanker(db, Options{})

	board, err := r.Leaderboard(context.Background(), Query{Window: Window7d}, 10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if board.Window.Start != "2024-12-26" || board.Window.End != "2025-01-01" {
		t.Fatalf("unexpected range %+v", board.Window)
	}
	if ids(board)[0] != "u2" || board.Users[1].WindowedTotal != 100 {
		t.Fatalf("rows outside the window must not count: %+v", board.Users)
	}
}

func TestZeroUsageUsersAreRanked(t *testing.T) {
	db := setupTestDB(t)
	addUser(t, db, "active", 0, "")
	addUser(t, db, "idle", 0, "")
	addDaily(t, db, "active", "2025-01-01", "D1", 10)
	r := newTestRanker(db, Options{})

	pos, err := r.Rank(context.Background(), "idle", Query{Window: WindowToday})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if pos.Rank != 2 || pos.WindowedTotal != 0 || pos.TotalInScope != 2 {
		t.Fatalf("unexpected position %+v", pos)
	}
}

func TestResolveRangeTimezone(t *testing.T) {
	r := ResolveRange(WindowToday, "Pacific/Kiritimati", newYearEvening)
	if r.Start != "2025-01-02" || r.End != "2025-01-02" || r.Timezone != "Pacific/Kiritimati" {
		t.Fatalf("unexpected range %+v", r)
	}
	r = ResolveRange(Window30d, "America/Los_Angeles", newYearEvening)
	if r.Start != "2024-12-03" || r.End != "2025-01-01" {
		t.Fatalf("unexpected range %+v", r)
	}
	for _, tz := range []string{"", "Not/AZone", "Local"} {
		r = ResolveRange(WindowToday, tz, newYearEvening)
		if r.Timezone != "UTC" || r.End != "2025-01-01" {
			t.Errorf("tz %q: expected UTC fallback, got %+v", tz, r)
		}
	}
	if r = ResolveRange(WindowAll, "Europe/Berlin", newYearEvening); r.Start != "" || r.End != "" {
		t.Errorf("all window has no bounds: %+v", r)
	}
}

func TestCountryScope(t *testing.T) {
	db := setupTestDB(t)
	addUser(t, db, "de1", 100, "DE")
	addUser(t, db, "de2", 300, "DE")
	addUser(t, db, "fr1", 1000, "FR")
	addUser(t, db, "nowhere", 5, "")
	r := newTestRanker(db, Options{})
	ctx := context.Background()

	pos, err := r.Rank(ctx, "de1", Query{Scope: ScopeCountry, Window: WindowAll})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if pos.Rank != 2 || pos.TotalInScope != 2 {
		t.Fatalf("unexpected country position %+v", pos)
	}

	if _, err := r.Rank(ctx, "nowhere", Query{Scope: ScopeCountry, Window: WindowAll}); !errors.Is(err, ErrNoCountry) {
		t.Fatalf("expected ErrNoCountry, got %v", err)
	}
	if _, err := r.Leaderboard(ctx, Query{Scope: ScopeCountry, Window: WindowAll}, 10); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	board, err := r.Leaderboard(ctx, Query{Scope: ScopeCountry, Window: WindowAll, Country: "de"}, 10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if strings.Join(ids(board), ",") != "de2,de1" {
		t.Fatalf("unexpected country board %v", ids(board))
	}
}

func TestRankUnknownUser(t *testing.T) {
	db := setupTestDB(t)
	r := newTestRanker(db, Options{})
	if _, err := r.Rank(context.Background(), "ghost", Query{Window: WindowAll}); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestRankFailureIsAnError(t *testing.T) {
	db := setupTestDB(t)
	addUser(t, db, "u1", 10, "")
	r := newTestRanker(db, Options{})
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.Close()

	pos, err := r.Rank(context.Background(), "u1", Query{Window: WindowToday})
	if err == nil {
		t.Fatalf("expected an error from a closed store, got %+v", pos)
	}
	if pos.Rank != 0 {
		t.Fatalf("a failed query must not produce a rank")
	}
}

func TestCacheKeyFollowsResolvedRange(t *testing.T) {
	db := setupTestDB(t)
	addUser(t, db, "u1", 0, "")
	addUser(t, db, "u2", 0, "")
	addDaily(t, db, "u1", "2025-01-01", "D1", 500)
	addDaily(t, db, "u2", "2025-01-02", "D1", 50)

	clk := &clock{t: time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC)}
	cache := &mapCache{}
	r := newTestRanker(db, Options{Cache: cache, Now: clk.Now})
	q := Query{Window: WindowToday}

	before, err := r.Leaderboard(context.Background(), q, 10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if before.Users[0].ID != "u1" {
		t.Fatalf("unexpected board before midnight %+v", before.Users)
	}

	clk.Set(time.Date(2025, 1, 2, 0, 1, 0, 0, time.UTC))
	after, err := r.Leaderboard(context.Background(), q, 10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if after.Window.End != "2025-01-02" || after.Users[0].ID != "u2" {
		t.Fatalf("cache served a board from the previous day: %+v", after)
	}
	if len(cache.data) != 2 {
		t.Errorf("expected one cache entry per resolved range, got %d", len(cache.data))
	}

	// a cached board is served without touching the store
	db.Where("1 = 1").Delete(&models.DailyUsageRecord{})
	cached, err := r.Leaderboard(context.Background(), q, 10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if cached.Users[0].WindowedTotal != 50 {
		t.Errorf("expected cached board, got %+v", cached.Users)
	}
}

func TestRefreshUserStoresRanks(t *testing.T) {
	db := setupTestDB(t)
	addUser(t, db, "a", 300, "DE")
	addUser(t, db, "b", 200, "FR")
	addUser(t, db, "c", 100, "DE")
	r := newTestRanker(db, Options{})

	if err := r.RefreshUser(context.Background(), "c"); err != nil {
		t.Fatalf("RefreshUser: %v", err)
	}
	var p models.UserProfile
	if err := db.Where("id = ?", "c").First(&p).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.GlobalRank != 3 || p.CountryRank != 2 {
		t.Fatalf("global/country = %d/%d, want 3/2", p.GlobalRank, p.CountryRank)
	}
	if p.Version != 0 {
		t.Errorf("derived ranks must not bump the merge version")
	}
}

func TestParseQueryValues(t *testing.T) {
	if w, err := ParseWindow(""); err != nil || w != WindowAll {
		t.Fatalf("empty window: %v %v", w, err)
	}
	if _, err := ParseWindow("1y"); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	if s, err := ParseScope("Country"); err != nil || s != ScopeCountry {
		t.Fatalf("scope: %v %v", s, err)
	}
	if _, err := ParseScope("planet"); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}
