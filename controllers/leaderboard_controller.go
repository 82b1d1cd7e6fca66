package controllers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/usageboard/ranking"
	"github.com/cppla/usageboard/utils"
)

// LeaderboardController serves rank queries.
type LeaderboardController struct {
	ranker   *ranking.Ranker
	maxLimit int
}

// NewLeaderboardController creates a new controller instance.
func NewLeaderboardController(ranker *ranking.Ranker, maxLimit int) *LeaderboardController {
	if maxLimit <= 0 {
		maxLimit = 100
	}
	return &LeaderboardController{ranker: ranker, maxLimit: maxLimit}
}

func parseQuery(ctx *gin.Context) (ranking.Query, error) {
	scope, err := ranking.ParseScope(ctx.Query("scope"))
	if err != nil {
		return ranking.Query{}, err
	}
	window, err := ranking.ParseWindow(ctx.Query("window"))
	if err != nil {
		return ranking.Query{}, err
	}
	return ranking.Query{
		Scope:    scope,
		Window:   window,
		Timezone: strings.TrimSpace(ctx.Query("timezone")),
		Country:  utils.NormalizeCountryCode(ctx.Query("country")),
	}, nil
}

// Leaderboard returns the top users for the requested scope and window.
func (l *LeaderboardController) Leaderboard(ctx *gin.Context) {
	q, err := parseQuery(ctx)
	if err != nil {
		respondError(ctx, err)
		return
	}

	limit := 50
	if v := strings.TrimSpace(ctx.Query("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(ctx, fmt.Errorf("%w: limit must be a positive integer", ranking.ErrInvalidQuery))
			return
		}
		limit = n
	}
	if limit > l.maxLimit {
		limit = l.maxLimit
	}

	board, err := l.ranker.Leaderboard(ctx.Request.Context(), q, limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, board)
}

// UserRank returns one user's position.
func (l *LeaderboardController) UserRank(ctx *gin.Context) {
	userID, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	q, err := parseQuery(ctx)
	if err != nil {
		respondError(ctx, err)
		return
	}

	pos, err := l.ranker.Rank(ctx.Request.Context(), userID, q)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, pos)
}
