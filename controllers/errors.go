package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/usageboard/ingest"
	"github.com/cppla/usageboard/middleware"
	"github.com/cppla/usageboard/ranking"
	"github.com/cppla/usageboard/store"
	"github.com/cppla/usageboard/utils"
	"github.com/cppla/usageboard/voting"
)

// respondError maps a service error onto the response envelope.
func respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidSnapshot):
		utils.Error(ctx, http.StatusBadRequest, utils.CodeInvalidSnapshot, err.Error())
	case errors.Is(err, ranking.ErrInvalidQuery):
		utils.Error(ctx, http.StatusBadRequest, utils.CodeInvalidQuery, err.Error())
	case errors.Is(err, voting.ErrInvalidVote):
		utils.Error(ctx, http.StatusBadRequest, utils.CodeInvalidVote, err.Error())
	case errors.Is(err, ingest.ErrUnknownUser), errors.Is(err, ranking.ErrUnknownUser), errors.Is(err, voting.ErrUnknownVoter):
		utils.Error(ctx, http.StatusNotFound, utils.CodeUnknownUser, "user not found")
	case errors.Is(err, ranking.ErrNoCountry):
		utils.Error(ctx, http.StatusNotFound, utils.CodeNoCountry, "user has no country")
	case errors.Is(err, voting.ErrNoVote):
		utils.Error(ctx, http.StatusNotFound, utils.CodeNoVote, "vote not found")
	case errors.Is(err, store.ErrPersistenceTimeout):
		ctx.Header("Retry-After", "1")
		utils.Error(ctx, http.StatusServiceUnavailable, utils.CodePersistenceTimeout, "storage timed out, retry later")
	case errors.Is(err, store.ErrStaleWriteConflict):
		ctx.Header("Retry-After", "1")
		utils.Error(ctx, http.StatusServiceUnavailable, utils.CodeStaleWrite, "concurrent update, retry later")
	default:
		utils.Logger.Error("request failed",
			zap.String("path", ctx.FullPath()),
			zap.String("request_id", ctx.GetString(middleware.ContextRequestIDKey)),
			zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, utils.CodeInternal, "internal error")
	}
}

func pathID(ctx *gin.Context, name string) (string, bool) {
	id, ok := utils.CleanID(ctx.Param(name))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, utils.CodeInvalidQuery, "invalid "+name)
	}
	return id, ok
}
