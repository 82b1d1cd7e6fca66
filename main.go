package main

import (
	"time"

	"go.uber.org/zap"

	"github.com/cppla/usageboard/config"
	"github.com/cppla/usageboard/events"
	"github.com/cppla/usageboard/ingest"
	"github.com/cppla/usageboard/ranking"
	"github.com/cppla/usageboard/ratelimit"
	"github.com/cppla/usageboard/routes"
	"github.com/cppla/usageboard/utils"
	"github.com/cppla/usageboard/voting"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer utils.Logger.Sync()

	db := config.InitDatabase()
	rc := utils.GetRedis()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NatsURL != "" {
		np, err := events.Connect(cfg.NatsURL, utils.Logger.Named("nats"))
		if err != nil {
			utils.Sugar.Warnf("NATS unavailable, events disabled: %v", err)
		} else {
			publisher = np
			utils.OnShutdown(np.Close)
		}
	}

	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case "redis":
		limiter = ratelimit.NewRedisLimiter(rc, utils.Logger.Named("ratelimit"))
	default:
		ml := ratelimit.NewMemoryLimiter()
		ml.Start(time.Duration(cfg.RateLimitSweepSec) * time.Second)
		utils.OnShutdown(ml.Stop)
		limiter = ml
	}

	ranker := ranking.NewRanker(db, ranking.Options{
		Cache:    utils.NewRedisCache(rc, "usageboard:"),
		CacheTTL: cfg.LeaderboardCacheTTL(),
		Timeout:  cfg.PersistTimeout(),
		Logger:   utils.Logger.Named("ranking"),
	})
	merger := ingest.NewMerger(db, ingest.Options{
		Ranks:       ranker,
		Events:      publisher,
		Logger:      utils.Logger.Named("ingest"),
		MaxAttempts: cfg.MergeMaxAttempts,
		Timeout:     cfg.PersistTimeout(),
	})
	votes := voting.NewService(db, voting.Options{
		Events:  publisher,
		Logger:  utils.Logger.Named("voting"),
		Timeout: cfg.PersistTimeout(),
	})

	r := routes.SetupRouter(routes.Deps{
		Config:   cfg,
		DB:       db,
		Merger:   merger,
		Ranker:   ranker,
		Votes:    votes,
		Limiter:  limiter,
		Resolver: utils.JWTResolver{Secret: cfg.JWTSecret, Revoked: rc},
	})

	utils.OnShutdown(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	utils.Logger.Info("starting server (graceful)", zap.String("port", cfg.AppPort), zap.String("ratelimit_backend", cfg.RateLimitBackend))
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
