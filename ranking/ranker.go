package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/usageboard/models"
	"github.com/cppla/usageboard/store"
)

// Cache stores computed results. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Position is one user's rank within a scope and window.
type Position struct {
	Rank          int       `json:"rank"`
	TotalInScope  int64     `json:"total_in_scope"`
	WindowedTotal int64     `json:"windowed_total"`
	Window        DateRange `json:"window"`
}

// Entry is one leaderboard row.
type Entry struct {
	ID            string `json:"id"`
	Rank          int    `json:"rank"`
	WindowedTotal int64  `json:"windowed_total"`
}

// Board is a page of the leaderboard.
type Board struct {
	Users        []Entry   `json:"users"`
	TotalInScope int64     `json:"total_in_scope"`
	Window       DateRange `json:"window"`
}

// Options configures a Ranker.
type Options struct {
	Cache    Cache
	CacheTTL time.Duration
	Timeout  time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

// Ranker answers rank queries straight from the store. It holds no locks and treats
// each query as a snapshot read.
type Ranker struct {
	db       *gorm.DB
	cache    Cache
	cacheTTL time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewRanker creates a Ranker over db.
func NewRanker(db *gorm.DB, opts Options) *Ranker {
	r := &Ranker{
		db:       db,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if r.cacheTTL <= 0 {
		r.cacheTTL = 30 * time.Second
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

type scored struct {
	UserID string
	Total  int64
}

// totals returns a subquery yielding (user_id, total) for every profile in scope.
func (r *Ranker) totals(db *gorm.DB, w Window, rng DateRange, country string) *gorm.DB {
	var q *gorm.DB
	if w.Bounded() {
		q = db.Model(&models.UserProfile{}).
			Select("user_profiles.id AS user_id, COALESCE(SUM(daily_usage_records.tokens), 0) AS total").
			Joins("LEFT JOIN daily_usage_records ON daily_usage_records.user_id = user_profiles.id AND daily_usage_records.day BETWEEN ? AND ?", rng.Start, rng.End).
			Group("user_profiles.id")
	} else {
		q = db.Model(&models.UserProfile{}).Select("user_profiles.id AS user_id, user_profiles.total_tokens AS total")
	}
	if country != "" {
		q = q.Where("user_profiles.country_code = ?", country)
	}
	return q
}

func (r *Ranker) position(db *gorm.DB, userID string, w Window, rng DateRange, country string) (Position, error) {
	pos := Position{Window: rng}

	var self []scored
	if err := db.Table("(?) AS ranked", r.totals(db, w, rng, country)).
		Where("user_id = ?", userID).
		Scan(&self).Error; err != nil {
		return Position{}, fmt.Errorf("windowed total: %w", err)
	}
	if len(self) == 0 {
		return Position{}, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	pos.WindowedTotal = self[0].Total

	var ahead int64
	if err := db.Table("(?) AS ranked", r.totals(db, w, rng, country)).
		Where("total > ? OR (total = ? AND user_id < ?)", pos.WindowedTotal, pos.WindowedTotal, userID).
		Count(&ahead).Error; err != nil {
		return Position{}, fmt.Errorf("count ahead: %w", err)
	}
	pos.Rank = int(ahead) + 1

	if err := r.countScope(db, country, &pos.TotalInScope); err != nil {
		return Position{}, err
	}
	return pos, nil
}

func (r *Ranker) countScope(db *gorm.DB, country string, out *int64) error {
	q := db.Model(&models.UserProfile{})
	if country != "" {
		q = q.Where("country_code = ?", country)
	}
	if err := q.Count(out).Error; err != nil {
		return fmt.Errorf("count scope: %w", err)
	}
	return nil
}

func (r *Ranker) loadProfile(db *gorm.DB, userID string) (models.UserProfile, error) {
	var p models.UserProfile
	if err := db.Select("id", "country_code").Where("id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return p, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
		}
		return p, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

// Rank returns userID's position for q. For ScopeCountry the user's own country is used.
func (r *Ranker) Rank(ctx context.Context, userID string, q Query) (Position, error) {
	rng := ResolveRange(q.Window, q.Timezone, r.now())

	ctx, cancel := store.WithTimeout(ctx, r.timeout)
	defer cancel()
	db := r.db.WithContext(ctx)

	p, err := r.loadProfile(db, userID)
	if err != nil {
		return Position{}, store.Classify(err)
	}
	country := ""
	if q.Scope == ScopeCountry {
		if country = p.Country(); country == "" {
			return Position{}, fmt.Errorf("%w: %s", ErrNoCountry, userID)
		}
	}

	key := cacheKey("rank", userID, string(q.Scope), country, string(q.Window), rng.String())
	var pos Position
	if r.cacheGet(ctx, key, &pos) {
		return pos, nil
	}
	pos, err = r.position(db, userID, q.Window, rng, country)
	if err != nil {
		return Position{}, store.Classify(err)
	}
	r.cacheSet(ctx, key, pos)
	return pos, nil
}

// Leaderboard returns the top limit users for q, ordered by windowed total descending
// and user id ascending.
func (r *Ranker) Leaderboard(ctx context.Context, q Query, limit int) (Board, error) {
	if q.Scope == ScopeCountry && strings.TrimSpace(q.Country) == "" {
		return Board{}, fmt.Errorf("%w: country is required for country scope", ErrInvalidQuery)
	}
	if limit <= 0 {
		limit = 50
	}
	country := ""
	if q.Scope == ScopeCountry {
		country = strings.ToUpper(strings.TrimSpace(q.Country))
	}
	rng := ResolveRange(q.Window, q.Timezone, r.now())

	ctx, cancel := store.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := cacheKey("board", string(q.Scope), country, string(q.Window), rng.String(), strconv.Itoa(limit))
	var board Board
	if r.cacheGet(ctx, key, &board) {
		return board, nil
	}

	db := r.db.WithContext(ctx)
	var rows []scored
	if err := db.Table("(?) AS ranked", r.totals(db, q.Window, rng, country)).
		Order("total DESC, user_id ASC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return Board{}, store.Classify(fmt.Errorf("leaderboard: %w", err))
	}

	board = Board{Users: make([]Entry, 0, len(rows)), Window: rng}
	for i, row := range rows {
		board.Users = append(board.Users, Entry{ID: row.UserID, Rank: i + 1, WindowedTotal: row.Total})
	}
	if err := r.countScope(db, country, &board.TotalInScope); err != nil {
		return Board{}, store.Classify(err)
	}
	r.cacheSet(ctx, key, board)
	return board, nil
}

// RefreshUser recomputes and stores the lifetime global and country ranks of userID.
func (r *Ranker) RefreshUser(ctx context.Context, userID string) error {
	ctx, cancel := store.WithTimeout(ctx, r.timeout)
	defer cancel()
	db := r.db.WithContext(ctx)

	p, err := r.loadProfile(db, userID)
	if err != nil {
		return store.Classify(err)
	}
	rng := ResolveRange(WindowAll, "", r.now())
	global, err := r.position(db, userID, WindowAll, rng, "")
	if err != nil {
		return store.Classify(err)
	}
	cols := map[string]any{"global_rank": global.Rank}
	if c := p.Country(); c != "" {
		local, err := r.position(db, userID, WindowAll, rng, c)
		if err != nil {
			return store.Classify(err)
		}
		cols["country_rank"] = local.Rank
	}
	if err := db.Model(&models.UserProfile{}).Where("id = ?", userID).UpdateColumns(cols).Error; err != nil {
		return store.Classify(fmt.Errorf("store ranks: %w", err))
	}
	return nil
}

func cacheKey(parts ...string) string {
	return "lb:" + strings.Join(parts, ":")
}

func (r *Ranker) cacheGet(ctx context.Context, key string, v any) bool {
	if r.cache == nil {
		return false
	}
	b, ok := r.cache.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		r.logger.Debug("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (r *Ranker) cacheSet(ctx context.Context, key string, v any) {
	if r.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	r.cache.Set(ctx, key, b, r.cacheTTL)
}
