package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/usageboard/events"
	"github.com/cppla/usageboard/models"
	"github.com/cppla/usageboard/store"
)

// RankRefresher recomputes the derived rank fields of one user.
type RankRefresher interface {
	RefreshUser(ctx context.Context, userID string) error
}

// Result is returned for an accepted merge.
type Result struct {
	Accepted         bool      `json:"accepted"`
	Totals           Totals    `json:"totals"`
	ActivityDayCount int       `json:"activity_day_count"`
	LastSync         time.Time `json:"last_sync"`
}

// Options configures a Merger. Zero values fall back to defaults.
type Options struct {
	Ranks       RankRefresher
	Events      events.Publisher
	Logger      *zap.Logger
	MaxAttempts int
	Timeout     time.Duration
	Now         func() time.Time
}

// Merger applies snapshots to profiles with optimistic concurrency.
type Merger struct {
	db          *gorm.DB
	ranks       RankRefresher
	events      events.Publisher
	logger      *zap.Logger
	maxAttempts int
	timeout     time.Duration
	now         func() time.Time

	// afterLoad runs inside the transaction between the profile read and the conditional write.
	afterLoad func(tx *gorm.DB)
}

// NewMerger creates a Merger over db.
func NewMerger(db *gorm.DB, opts Options) *Merger {
	m := &Merger{
		db:          db,
		ranks:       opts.Ranks,
		events:      opts.Events,
		logger:      opts.Logger,
		maxAttempts: opts.MaxAttempts,
		timeout:     opts.Timeout,
		now:         opts.Now,
	}
	if m.events == nil {
		m.events = events.NopPublisher{}
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = 3
	}
	if m.timeout <= 0 {
		m.timeout = store.DefaultTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Merge validates snap and folds it into the user's profile and daily record.
//
// Stale-write conflicts are retried up to the configured attempt cap; the merge is
// commutative and idempotent, so redoing it is always safe. Rank refresh and event
// publishing happen after commit and never fail the call.
func (m *Merger) Merge(ctx context.Context, userID string, snap Snapshot) (Result, error) {
	snap, err := Normalize(snap, m.now())
	if err != nil {
		return Result{}, err
	}

	var res Result
	for attempt := 1; ; attempt++ {
		res, err = m.attempt(ctx, userID, snap)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrStaleWriteConflict) {
			return Result{}, err
		}
		if attempt >= m.maxAttempts {
			return Result{}, fmt.Errorf("merge for %s gave up after %d attempts: %w", userID, attempt, err)
		}
		m.logger.Debug("merge conflict, retrying", zap.String("user_id", userID), zap.Int("attempt", attempt))
	}

	m.afterCommit(ctx, userID, snap, res)
	return res, nil
}

func (m *Merger) attempt(ctx context.Context, userID string, snap Snapshot) (Result, error) {
	ctx, cancel := store.WithTimeout(ctx, m.timeout)
	defer cancel()

	var res Result
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.UserProfile
		if err := tx.Where("id = ?", userID).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
			}
			return fmt.Errorf("load profile: %w", err)
		}
		if m.afterLoad != nil {
			m.afterLoad(tx)
		}

		breakdown, err := p.Breakdown()
		if err != nil {
			return fmt.Errorf("decode model breakdown: %w", err)
		}
		merged := CumulativeMax{}.Merge(Totals{
			TotalTokens:    p.TotalTokens,
			TotalCost:      p.TotalCost,
			ModelBreakdown: breakdown,
		}, snap)

		var sameDay int64
		if err := tx.Model(&models.DailyUsageRecord{}).
			Where("user_id = ? AND day = ?", userID, snap.Day).
			Count(&sameDay).Error; err != nil {
			return fmt.Errorf("count daily records: %w", err)
		}
		activity := p.ActivityDayCount
		if sameDay == 0 {
			activity++
		}

		if err := p.SetBreakdown(merged.ModelBreakdown); err != nil {
			return fmt.Errorf("encode model breakdown: %w", err)
		}
		now := m.now().UTC()
		updates := map[string]any{
			"total_tokens":       merged.TotalTokens,
			"total_cost":         merged.TotalCost,
			"model_breakdown":    p.ModelBreakdown,
			"activity_day_count": activity,
			"last_sync":          now,
			"version":            p.Version + 1,
			"updated_at":         now,
		}
		if p.TenureStart == nil {
			updates["tenure_start"] = now
		}
		if p.CountryCode == nil && snap.CountryHint != "" {
			updates["country_code"] = snap.CountryHint
		}

		upd := tx.Model(&models.UserProfile{}).
			Where("id = ? AND version = ?", userID, p.Version).
			Updates(updates)
		if upd.Error != nil {
			return fmt.Errorf("update profile: %w", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return store.ErrStaleWriteConflict
		}

		overwrite := PerDeviceOverwrite{}
		rec := overwrite.Record(userID, snap, now)
		if err := tx.Clauses(overwrite.OnConflict()).Create(&rec).Error; err != nil {
			return fmt.Errorf("upsert daily record: %w", err)
		}

		res = Result{Accepted: true, Totals: merged, ActivityDayCount: activity, LastSync: now}
		return nil
	})
	return res, store.Classify(err)
}

func (m *Merger) afterCommit(ctx context.Context, userID string, snap Snapshot, res Result) {
	if m.ranks != nil {
		rctx, cancel := store.WithTimeout(ctx, m.timeout)
		if err := m.ranks.RefreshUser(rctx, userID); err != nil {
			m.logger.Warn("rank refresh after merge failed", zap.String("user_id", userID), zap.Error(err))
		}
		cancel()
	}
	evt := events.UsageMerged{
		UserID:      userID,
		DeviceID:    snap.DeviceID,
		Day:         snap.Day,
		TotalTokens: res.Totals.TotalTokens,
		TotalCost:   res.Totals.TotalCost.String(),
		At:          res.LastSync,
	}
	if err := m.events.Publish(ctx, events.SubjectUsageMerged, evt); err != nil {
		m.logger.Warn("publish usage event failed", zap.String("user_id", userID), zap.Error(err))
	}
}
