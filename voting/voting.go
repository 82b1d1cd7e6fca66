// Package voting records trust-weighted votes and tallies them.
package voting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/usageboard/events"
	"github.com/cppla/usageboard/models"
	"github.com/cppla/usageboard/store"
	"github.com/cppla/usageboard/trust"
)

var (
	ErrUnknownVoter = errors.New("unknown voter")
	ErrNoVote       = errors.New("no vote to remove")
	ErrInvalidVote  = errors.New("invalid vote")
)

// weights maps each tier to the weight frozen onto its votes.
var weights = map[trust.Tier]int{
	trust.Unverified:  0,
	trust.Basic:       1,
	trust.Established: 2,
	trust.Trusted:     3,
	trust.Veteran:     5,
}

// WeightFor returns the vote weight of tier t.
func WeightFor(t trust.Tier) int {
	return weights[t]
}

// CastResult describes the effect of one cast on the target's tally.
type CastResult struct {
	WeightApplied  int    `json:"weight_applied"`
	PreviousWeight int    `json:"previous_weight"`
	Delta          int    `json:"delta"`
	Tier           string `json:"tier"`
}

// Tally is the current sum of frozen weights for a target.
type Tally struct {
	TargetID string `json:"target_id"`
	Total    int64  `json:"tally"`
	Votes    int64  `json:"votes"`
}

// Options configures a Service.
type Options struct {
	Events  events.Publisher
	Logger  *zap.Logger
	Timeout time.Duration
	Now     func() time.Time
}

// Service casts, removes and tallies votes.
type Service struct {
	db      *gorm.DB
	events  events.Publisher
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewService creates a vote Service over db.
func NewService(db *gorm.DB, opts Options) *Service {
	s := &Service{db: db, events: opts.Events, logger: opts.Logger, timeout: opts.Timeout, now: opts.Now}
	if s.events == nil {
		s.events = events.NopPublisher{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func validIDs(voterID, targetID string) error {
	if strings.TrimSpace(voterID) == "" || strings.TrimSpace(targetID) == "" {
		return fmt.Errorf("%w: voter and target are required", ErrInvalidVote)
	}
	if voterID == targetID {
		return fmt.Errorf("%w: cannot vote for yourself", ErrInvalidVote)
	}
	return nil
}

// Cast classifies the voter as of now and stores a vote carrying that tier's weight.
// An existing vote by the same voter on the same target is replaced, never duplicated.
func (s *Service) Cast(ctx context.Context, voterID, targetID string) (CastResult, error) {
	if err := validIDs(voterID, targetID); err != nil {
		return CastResult{}, err
	}
	ctx, cancel := store.WithTimeout(ctx, s.timeout)
	defer cancel()

	var res CastResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var voter models.UserProfile
		if err := tx.Where("id = ?", voterID).First(&voter).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownVoter, voterID)
			}
			return fmt.Errorf("load voter: %w", err)
		}
		now := s.now().UTC()
		tier := trust.ClassifyProfile(&voter, now)

		var existing []models.Vote
		if err := tx.Where("voter_id = ? AND target_id = ?", voterID, targetID).Limit(1).Find(&existing).Error; err != nil {
			return fmt.Errorf("load vote: %w", err)
		}
		if len(existing) > 0 {
			res.PreviousWeight = existing[0].Weight
		}

		v := models.Vote{
			VoterID:   voterID,
			TargetID:  targetID,
			Weight:    WeightFor(tier),
			Tier:      tier.String(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "voter_id"}, {Name: "target_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"weight", "tier", "updated_at"}),
		}).Create(&v).Error; err != nil {
			return fmt.Errorf("store vote: %w", err)
		}

		res.WeightApplied = v.Weight
		res.Delta = v.Weight - res.PreviousWeight
		res.Tier = v.Tier
		return nil
	})
	if err != nil {
		return CastResult{}, store.Classify(err)
	}

	s.publish(ctx, events.SubjectVoteCast, events.VoteChanged{
		VoterID:  voterID,
		TargetID: targetID,
		Weight:   res.WeightApplied,
		Previous: res.PreviousWeight,
		Tier:     res.Tier,
		At:       s.now().UTC(),
	})
	return res, nil
}

// Remove deletes the voter's vote on target and returns the weight it carried.
func (s *Service) Remove(ctx context.Context, voterID, targetID string) (int, error) {
	if err := validIDs(voterID, targetID); err != nil {
		return 0, err
	}
	ctx, cancel := store.WithTimeout(ctx, s.timeout)
	defer cancel()

	var removed models.Vote
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("voter_id = ? AND target_id = ?", voterID, targetID).First(&removed).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoVote
			}
			return fmt.Errorf("load vote: %w", err)
		}
		del := tx.Where("voter_id = ? AND target_id = ?", voterID, targetID).Delete(&models.Vote{})
		if del.Error != nil {
			return fmt.Errorf("delete vote: %w", del.Error)
		}
		if del.RowsAffected == 0 {
			return ErrNoVote
		}
		return nil
	})
	if err != nil {
		return 0, store.Classify(err)
	}

	s.publish(ctx, events.SubjectVoteRemoved, events.VoteChanged{
		VoterID:  voterID,
		TargetID: targetID,
		Weight:   0,
		Previous: removed.Weight,
		Tier:     removed.Tier,
		At:       s.now().UTC(),
	})
	return removed.Weight, nil
}

// Tally sums the frozen weights of every vote on targetID.
func (s *Service) Tally(ctx context.Context, targetID string) (Tally, error) {
	ctx, cancel := store.WithTimeout(ctx, s.timeout)
	defer cancel()

	t := Tally{TargetID: targetID}
	row := struct {
		Total int64
		Votes int64
	}{}
	if err := s.db.WithContext(ctx).Model(&models.Vote{}).
		Select("COALESCE(SUM(weight), 0) AS total, COUNT(*) AS votes").
		Where("target_id = ?", targetID).
		Scan(&row).Error; err != nil {
		return t, store.Classify(fmt.Errorf("tally: %w", err))
	}
	t.Total, t.Votes = row.Total, row.Votes
	return t, nil
}

func (s *Service) publish(ctx context.Context, subject string, evt events.VoteChanged) {
	if err := s.events.Publish(ctx, subject, evt); err != nil {
		s.logger.Warn("publish vote event failed", zap.String("subject", subject), zap.Error(err))
	}
}
