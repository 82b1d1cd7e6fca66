package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/cppla/usageboard/ratelimit"
	"github.com/cppla/usageboard/utils"
)

type ipBucket struct {
	limiter *rate.Limiter
	expires time.Time
}

// ipBuckets is a per-IP token bucket set with idle expiry.
type ipBuckets struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

func (b *ipBuckets) get(key string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, v := range b.buckets {
		if now.After(v.expires) {
			delete(b.buckets, k)
		}
	}
	if v, ok := b.buckets[key]; ok {
		v.expires = now.Add(b.idle)
		return v.limiter
	}
	v := &ipBucket{limiter: rate.NewLimiter(b.limit, b.burst), expires: now.Add(b.idle)}
	b.buckets[key] = v
	return v.limiter
}

// ReadRateLimit applies a per-IP token bucket to public read endpoints.
func ReadRateLimit(perMinute int) gin.HandlerFunc {
	if perMinute < 1 {
		perMinute = 1
	}
	b := &ipBuckets{
		buckets: map[string]*ipBucket{},
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   max(perMinute/2, 1),
		idle:    5 * time.Minute,
	}
	return func(ctx *gin.Context) {
		now := time.Now()
		r := b.get(ctx.ClientIP(), now).ReserveN(now, 1)
		if !r.OK() {
			utils.RateLimited(ctx, time.Second)
			ctx.Abort()
			return
		}
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			utils.RateLimited(ctx, delay)
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// Admission rejects requests whose identity exceeded rule before any work is done.
// It must run after AuthRequired.
func Admission(l ratelimit.Limiter, rule ratelimit.Rule) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		userID, ok := UserID(ctx)
		if !ok {
			utils.Error(ctx, http.StatusUnauthorized, utils.CodeUnauthorized, "unauthorized")
			ctx.Abort()
			return
		}
		res := rule.Check(ctx.Request.Context(), l, userID)
		ctx.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		ctx.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		ctx.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
		if !res.Allowed {
			utils.RateLimited(ctx, res.RetryAfter(time.Now()))
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
