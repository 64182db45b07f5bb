package middlewares

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/config"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/utils"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// 超过该时长未访问的限流器会被清理
const limiterIdleTTL = 10 * time.Minute

type ownerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按上传者维护令牌桶, 未识别上传者时按客户端 IP
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ownerLimiter
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

func NewRateLimiter(cfg *config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*ownerLimiter),
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow 返回是否放行以及被拒绝时建议的等待时长
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, ol := range l.limiters {
			if now.Sub(ol.lastSeen) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}
	ol, ok := l.limiters[key]
	if !ok {
		ol = &ownerLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = ol
	}
	ol.lastSeen = now
	l.mu.Unlock()

	r := ol.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Middleware 超出配额时返回 429 并带上 Retry-After
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := utils.ResolveOwnerID(c, c.Query("ownerId"))
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		ok, wait := l.Allow(key)
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			xerr.AbortWithError(c, http.StatusTooManyRequests, xerr.TooManyRequestsCode, "rate_limited", "Too many requests")
			return
		}
		c.Next()
	}
}
