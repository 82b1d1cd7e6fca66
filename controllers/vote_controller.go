package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/usageboard/middleware"
	"github.com/cppla/usageboard/utils"
	"github.com/cppla/usageboard/voting"
)

// VoteController handles casting and removing votes.
type VoteController struct {
	votes *voting.Service
}

// NewVoteController creates a new controller instance.
func NewVoteController(votes *voting.Service) *VoteController {
	return &VoteController{votes: votes}
}

// Cast records the caller's vote on a target, replacing any earlier one.
func (v *VoteController) Cast(ctx *gin.Context) {
	voterID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, utils.CodeUnauthorized, "unauthorized")
		return
	}
	targetID, ok := pathID(ctx, "target_id")
	if !ok {
		return
	}

	res, err := v.votes.Cast(ctx.Request.Context(), voterID, targetID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}

// Remove deletes the caller's vote on a target.
func (v *VoteController) Remove(ctx *gin.Context) {
	voterID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, utils.CodeUnauthorized, "unauthorized")
		return
	}
	targetID, ok := pathID(ctx, "target_id")
	if !ok {
		return
	}

	removed, err := v.votes.Remove(ctx.Request.Context(), voterID, targetID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"removed_weight": removed})
}

// Tally returns the current weighted tally of a target.
func (v *VoteController) Tally(ctx *gin.Context) {
	targetID, ok := pathID(ctx, "target_id")
	if !ok {
		return
	}
	t, err := v.votes.Tally(ctx.Request.Context(), targetID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, t)
}
