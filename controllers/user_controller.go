package controllers

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/usageboard/models"
	"github.com/cppla/usageboard/ranking"
	"github.com/cppla/usageboard/store"
	"github.com/cppla/usageboard/trust"
	"github.com/cppla/usageboard/utils"
)

// UserController exposes public profile data.
type UserController struct {
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time
}

// NewUserController creates a new controller instance.
func NewUserController(db *gorm.DB, timeout time.Duration) *UserController {
	return &UserController{db: db, timeout: timeout, now: time.Now}
}

// GetUser returns a profile together with its tier and level as of now.
func (u *UserController) GetUser(ctx *gin.Context) {
	userID, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	c, cancel := store.WithTimeout(ctx.Request.Context(), u.timeout)
	defer cancel()

	var p models.UserProfile
	if err := u.db.WithContext(c).Where("id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(ctx, fmt.Errorf("%w: %s", ranking.ErrUnknownUser, userID))
			return
		}
		respondError(ctx, store.Classify(err))
		return
	}

	breakdown, err := p.Breakdown()
	if err != nil {
		respondError(ctx, err)
		return
	}
	facts := trust.FactsFor(&p, u.now())
	utils.Success(ctx, gin.H{
		"id":                 p.ID,
		"total_tokens":       p.TotalTokens,
		"total_cost":         p.TotalCost,
		"model_breakdown":    breakdown,
		"last_sync":          p.LastSync,
		"global_rank":        p.GlobalRank,
		"country_rank":       p.CountryRank,
		"country_code":       p.Country(),
		"activity_day_count": p.ActivityDayCount,
		"tenure_days":        facts.TenureDays,
		"level":              facts.Level,
		"trust_tier":         trust.Classify(facts).String(),
	})
}
