package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/usageboard/config"
	"github.com/cppla/usageboard/controllers"
	"github.com/cppla/usageboard/ingest"
	"github.com/cppla/usageboard/middleware"
	"github.com/cppla/usageboard/ranking"
	"github.com/cppla/usageboard/ratelimit"
	"github.com/cppla/usageboard/utils"
	"github.com/cppla/usageboard/voting"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Config   config.AppConfig
	DB       *gorm.DB
	Merger   *ingest.Merger
	Ranker   *ranking.Ranker
	Votes    *voting.Service
	Limiter  ratelimit.Limiter
	Resolver middleware.IdentityResolver
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// access log goes to its own rolling file
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(ginzap.Ginzap(gl, time.RFC3339, true))
		r.Use(ginzap.RecoveryWithZap(gl, true))
	} else {
		r.Use(gin.Recovery())
	}
	r.Use(middleware.RequestID())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	submissionController := controllers.NewSubmissionController(d.Merger, cfg.CountryLookupEnabled)
	leaderboardController := controllers.NewLeaderboardController(d.Ranker, cfg.LeaderboardMaxLimit)
	userController := controllers.NewUserController(d.DB, cfg.PersistTimeout())
	voteController := controllers.NewVoteController(d.Votes)

	submitRule := ratelimit.Rule{Prefix: "submit:", Limit: cfg.SubmitLimit, Window: seconds(cfg.SubmitWindowSec)}
	voteRule := ratelimit.Rule{Prefix: "vote:", Limit: cfg.VoteLimit, Window: seconds(cfg.VoteWindowSec)}
	profileRule := ratelimit.Rule{Prefix: "profile:", Limit: cfg.ProfileLimit, Window: seconds(cfg.ProfileWindowSec)}

	api := r.Group("/api/v1")
	auth := middleware.AuthRequired(d.Resolver)

	public := api.Group("")
	public.Use(middleware.ReadRateLimit(cfg.ReadRateLimitPerMin))
	public.GET("/leaderboard", leaderboardController.Leaderboard)
	public.GET("/users/:id", userController.GetUser)
	public.GET("/votes/:target_id/tally", voteController.Tally)
	public.GET("/users/:id/rank", auth, middleware.Admission(d.Limiter, profileRule), leaderboardController.UserRank)

	api.POST("/submissions", auth, middleware.Admission(d.Limiter, submitRule), submissionController.Submit)

	votes := api.Group("/votes")
	votes.Use(auth, middleware.Admission(d.Limiter, voteRule))
	votes.POST("/:target_id", voteController.Cast)
	votes.DELETE("/:target_id", voteController.Remove)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, utils.CodeRouteNotFound, "api route not found")
	})

	return r
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
