package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via config files or the environment.
type AppConfig struct {
	AppPort        string
	JWTSecret      string
	AllowedOrigins []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database
	DBDriver    string // mysql | postgres | sqlite
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis for caching / shared rate limiting / credential revocation
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// NATS for post-write events; empty disables publishing
	NatsURL string
	// Admission control
	RateLimitBackend    string // memory | redis
	RateLimitSweepSec   int
	SubmitLimit         int
	SubmitWindowSec     int
	VoteLimit           int
	VoteWindowSec       int
	ProfileLimit        int
	ProfileWindowSec    int
	ReadRateLimitPerMin int
	// Core behaviour
	MergeMaxAttempts       int
	PersistTimeoutMS       int
	LeaderboardCacheTTLSec int
	LeaderboardMaxLimit    int
	CountryLookupEnabled   bool
	CountryLookupURL       string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: config/config.json -> defaults -> environment variable overrides
	if err := loadJSONConfig(filepath.Join("config", "config.json"), &cfg); err != nil {
		log.Printf("config/config.json ignored: %v", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in config or environment variables")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// Set replaces the cached configuration. Used by tests and embedding programs.
func Set(c AppConfig) {
	applyDefaults(&c)
	cfg = c
	loaded = true
}

// loadJSONConfig reads the grouped JSON file into out if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}
	applySections(raw, out)
	return nil
}

func applySections(raw map[string]any, out *AppConfig) {
	getString := func(m map[string]any, key string) string {
		if s, ok := m[key].(string); ok {
			return s
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		switch t := m[key].(type) {
		case float64:
			return int(t)
		case int:
			return t
		}
		return 0
	}
	getBool := func(m map[string]any, key string) bool {
		b, _ := m[key].(bool)
		return b
	}
	getStringSlice := func(m map[string]any, key string) []string {
		arr, ok := m[key].([]any)
		if !ok {
			return nil
		}
		res := make([]string, 0, len(arr))
		for _, it := range arr {
			if s, ok := it.(string); ok {
				res = append(res, s)
			}
		}
		return res
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
		out.CountryLookupEnabled = getBool(app, "CountryLookupEnabled")
		out.CountryLookupURL = getString(app, "CountryLookupURL")
	}
	if g, ok := raw["gin"].(map[string]any); ok {
		out.GinMode = getString(g, "Mode")
		out.GinPath = getString(g, "LogPath")
	}
	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DBDriver = getString(dbs, "Driver")
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
		out.PersistTimeoutMS = getInt(dbs, "PersistTimeoutMS")
	}
	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		out.RedisPort = getInt(rds, "RedisPort")
		out.RedisDB = getInt(rds, "RedisDB")
		out.RedisPassword = getString(rds, "RedisPassword")
	}
	if nt, ok := raw["nats"].(map[string]any); ok {
		out.NatsURL = getString(nt, "URL")
	}
	if rl, ok := raw["ratelimit"].(map[string]any); ok {
		out.RateLimitBackend = getString(rl, "Backend")
		out.RateLimitSweepSec = getInt(rl, "SweepSec")
		out.SubmitLimit = getInt(rl, "SubmitLimit")
		out.SubmitWindowSec = getInt(rl, "SubmitWindowSec")
		out.VoteLimit = getInt(rl, "VoteLimit")
		out.VoteWindowSec = getInt(rl, "VoteWindowSec")
		out.ProfileLimit = getInt(rl, "ProfileLimit")
		out.ProfileWindowSec = getInt(rl, "ProfileWindowSec")
		out.ReadRateLimitPerMin = getInt(rl, "ReadPerMinute")
	}
	if lb, ok := raw["leaderboard"].(map[string]any); ok {
		out.MergeMaxAttempts = getInt(lb, "MergeMaxAttempts")
		out.LeaderboardCacheTTLSec = getInt(lb, "CacheTTLSec")
		out.LeaderboardMaxLimit = getInt(lb, "MaxLimit")
	}
	if lg, ok := raw["log"].(map[string]any); ok {
		out.LogLevel = getString(lg, "Level")
		out.LogPath = getString(lg, "Path")
		out.LogMaxSizeMB = getInt(lg, "MaxSizeMB")
		out.LogMaxBackups = getInt(lg, "MaxBackups")
		out.LogMaxAgeDays = getInt(lg, "MaxAgeDays")
		out.LogCompress = getBool(lg, "Compress")
	}
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "usageboard"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.RateLimitBackend == "" {
		c.RateLimitBackend = "memory"
	}
	if c.RateLimitSweepSec == 0 {
		c.RateLimitSweepSec = 60
	}
	if c.SubmitLimit == 0 {
		c.SubmitLimit = 10
	}
	if c.SubmitWindowSec == 0 {
		c.SubmitWindowSec = 3600
	}
	if c.VoteLimit == 0 {
		c.VoteLimit = 30
	}
	if c.VoteWindowSec == 0 {
		c.VoteWindowSec = 60
	}
	if c.ProfileLimit == 0 {
		c.ProfileLimit = 20
	}
	if c.ProfileWindowSec == 0 {
		c.ProfileWindowSec = 60
	}
	if c.ReadRateLimitPerMin == 0 {
		c.ReadRateLimitPerMin = 120
	}
	if c.MergeMaxAttempts == 0 {
		c.MergeMaxAttempts = 3
	}
	if c.PersistTimeoutMS == 0 {
		c.PersistTimeoutMS = 3000
	}
	if c.LeaderboardCacheTTLSec == 0 {
		c.LeaderboardCacheTTLSec = 60
	}
	if c.LeaderboardMaxLimit == 0 {
		c.LeaderboardMaxLimit = 100
	}
	if c.CountryLookupURL == "" {
		c.CountryLookupURL = "https://ipwho.is/"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogPath == "" {
		c.LogPath = "logs/app.log"
	}
}

// applyEnvOverrides overrides fields from environment variables when set.
func applyEnvOverrides(c *AppConfig) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("APP_PORT", &c.AppPort)
	str("JWT_SECRET", &c.JWTSecret)
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = splitCSV(v)
	}
	str("GIN_MODE", &c.GinMode)
	str("GIN_LOG_PATH", &c.GinPath)
	str("DB_DRIVER", &c.DBDriver)
	str("DATABASE_URI", &c.DatabaseURI)
	str("DB_HOST", &c.DBHost)
	str("DB_PORT", &c.DBPort)
	str("DB_USER", &c.DBUser)
	str("DB_PASSWORD", &c.DBPassword)
	str("DB_NAME", &c.DBName)
	str("REDIS_HOST", &c.RedisHost)
	num("REDIS_PORT", &c.RedisPort)
	num("REDIS_DB", &c.RedisDB)
	str("REDIS_PASSWORD", &c.RedisPassword)
	str("NATS_URL", &c.NatsURL)
	str("RATE_LIMIT_BACKEND", &c.RateLimitBackend)
	num("RATE_LIMIT_SWEEP_SEC", &c.RateLimitSweepSec)
	num("SUBMIT_LIMIT", &c.SubmitLimit)
	num("SUBMIT_WINDOW_SEC", &c.SubmitWindowSec)
	num("VOTE_LIMIT", &c.VoteLimit)
	num("VOTE_WINDOW_SEC", &c.VoteWindowSec)
	num("PROFILE_LIMIT", &c.ProfileLimit)
	num("PROFILE_WINDOW_SEC", &c.ProfileWindowSec)
	num("READ_RATE_LIMIT_PER_MIN", &c.ReadRateLimitPerMin)
	num("MERGE_MAX_ATTEMPTS", &c.MergeMaxAttempts)
	num("PERSIST_TIMEOUT_MS", &c.PersistTimeoutMS)
	num("LEADERBOARD_CACHE_TTL_SEC", &c.LeaderboardCacheTTLSec)
	num("LEADERBOARD_MAX_LIMIT", &c.LeaderboardMaxLimit)
	flag("COUNTRY_LOOKUP_ENABLED", &c.CountryLookupEnabled)
	str("COUNTRY_LOOKUP_URL", &c.CountryLookupURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_PATH", &c.LogPath)
	num("LOG_MAX_SIZE_MB", &c.LogMaxSizeMB)
	num("LOG_MAX_BACKUPS", &c.LogMaxBackups)
	num("LOG_MAX_AGE_DAYS", &c.LogMaxAgeDays)
	flag("LOG_COMPRESS", &c.LogCompress)
}

// PersistTimeout bounds every persistence call.
func (c AppConfig) PersistTimeout() time.Duration {
	return time.Duration(c.PersistTimeoutMS) * time.Millisecond
}

// LeaderboardCacheTTL is how long a computed board stays cached.
func (c AppConfig) LeaderboardCacheTTL() time.Duration {
	return time.Duration(c.LeaderboardCacheTTLSec) * time.Second
}

func splitCSV(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
