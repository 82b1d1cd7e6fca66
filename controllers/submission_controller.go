package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/cppla/usageboard/ingest"
	"github.com/cppla/usageboard/middleware"
	"github.com/cppla/usageboard/utils"
)

// SubmissionController accepts device usage snapshots.
type SubmissionController struct {
	merger        *ingest.Merger
	countryLookup bool
}

// NewSubmissionController creates a new controller instance. With countryLookup the
// client IP is resolved to a country when neither the edge nor the client supplied one.
func NewSubmissionController(merger *ingest.Merger, countryLookup bool) *SubmissionController {
	return &SubmissionController{merger: merger, countryLookup: countryLookup}
}

type submissionRequest struct {
	DeviceID       string           `json:"device_id"`
	TotalTokens    int64            `json:"total_tokens"`
	TotalCost      decimal.Decimal  `json:"total_cost"`
	ModelBreakdown map[string]int64 `json:"model_breakdown"`
	Day            string           `json:"day"`
	Country        string           `json:"country"`
}

// Submit merges one snapshot into the caller's profile.
func (s *SubmissionController) Submit(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, utils.CodeUnauthorized, "unauthorized")
		return
	}

	var req submissionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, utils.CodeInvalidSnapshot, "invalid snapshot body")
		return
	}

	res, err := s.merger.Merge(ctx.Request.Context(), userID, ingest.Snapshot{
		DeviceID:       req.DeviceID,
		TotalTokens:    req.TotalTokens,
		TotalCost:      req.TotalCost,
		ModelBreakdown: req.ModelBreakdown,
		Day:            req.Day,
		CountryHint:    s.countryHint(ctx, req.Country),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	utils.Success(ctx, gin.H{
		"accepted": res.Accepted,
		"totals": gin.H{
			"total_tokens":       res.Totals.TotalTokens,
			"total_cost":         res.Totals.TotalCost,
			"model_breakdown":    res.Totals.ModelBreakdown,
			"activity_day_count": res.ActivityDayCount,
			"last_sync":          res.LastSync,
		},
	})
}

// countryHint prefers the CDN header, then the client's claim, then an IP lookup.
func (s *SubmissionController) countryHint(ctx *gin.Context, claimed string) string {
	if c := utils.NormalizeCountryCode(ctx.GetHeader("CF-IPCountry")); c != "" {
		return c
	}
	if c := utils.NormalizeCountryCode(claimed); c != "" {
		return c
	}
	if !s.countryLookup {
		return ""
	}
	c, err := utils.GetIPCountry(ctx.Request.Context(), ctx.ClientIP())
	if err != nil {
		utils.Sugar.Debugf("country lookup failed ip=%s err=%v", ctx.ClientIP(), err)
		return ""
	}
	return c
}
