package middleware

import (
	"expvar"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/homekeep/internal/apperr"
	"github.com/oksasatya/homekeep/pkg/response"
)

var metricRateLimited = expvar.NewInt("http_rate_limited")

func ipFromCtx(c *gin.Context) string {
	if ip := c.GetString(CtxRealIP); ip != "" {
		return ip
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// routeOf prefers the registered pattern so /tasks/:taskID shares one bucket.
func routeOf(c *gin.Context) string {
	if fp := c.FullPath(); fp != "" {
		return fp
	}
	return c.Request.URL.Path
}

// KeyFunc names the bucket a request counts against.
type KeyFunc func(c *gin.Context) string

func KeyByIP() KeyFunc {
	return func(c *gin.Context) string { return "rl:ip:" + ipFromCtx(c) }
}

func KeyByIPAndPath() KeyFunc {
	return func(c *gin.Context) string { return "rl:path:" + routeOf(c) + ":ip:" + ipFromCtx(c) }
}

// KeyByUserID buckets per signed-in user; anonymous callers fall back to IP.
func KeyByUserID() KeyFunc {
	return func(c *gin.Context) string {
		if uid := c.GetString(CtxUserID); uid != "" {
			return "rl:user:" + uid
		}
		return "rl:user:anon:ip:" + ipFromCtx(c)
	}
}

// AllowFunc returns true to let a request through uncounted.
type AllowFunc func(*gin.Context) bool

// Limit is one fixed-window rule.
type Limit struct {
	Max    int
	Window time.Duration
	Key    KeyFunc
	Skip   AllowFunc
}

func PerIP(max int, window time.Duration) Limit {
	return Limit{Max: max, Window: window, Key: KeyByIP()}
}

func PerUser(max int, window time.Duration) Limit {
	return Limit{Max: max, Window: window, Key: KeyByUserID()}
}

func PerRoute(max int, window time.Duration) Limit {
	return Limit{Max: max, Window: window, Key: KeyByIPAndPath()}
}

// Except returns a copy of l that skips requests matched by allow.
func (l Limit) Except(allow AllowFunc) Limit {
	l.Skip = allow
	return l
}

// Counts the hit, arms the window on the first one and returns {count, pttl}.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// RateLimit enforces l against Redis and sets the X-RateLimit-* headers.
// Preflight requests pass. Redis errors fail open.
func RateLimit(rdb *redis.Client, l Limit) gin.HandlerFunc {
	if rdb == nil || l.Max <= 0 || l.Window <= 0 || l.Key == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions || (l.Skip != nil && l.Skip(c)) {
			c.Next()
			return
		}
		count, ttl, err := hit(c, rdb, l)
		if err != nil {
			c.Next()
			return
		}
		reset := int((ttl + time.Second - 1) / time.Second)
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.Max))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(l.Max-count, 0)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(reset))
		if count <= l.Max {
			c.Next()
			return
		}
		metricRateLimited.Add(1)
		if reset > 0 {
			c.Header("Retry-After", strconv.Itoa(reset))
		}
		response.Abort(c, http.StatusTooManyRequests, "too many requests, slow down", response.ErrorBody{
			Category:  string(apperr.Unknown),
			Code:      "rate_limited",
			Retryable: true,
		})
	}
}

func hit(c *gin.Context, rdb *redis.Client, l Limit) (int, time.Duration, error) {
	res, err := hitScript.Run(c.Request.Context(), rdb, []string{l.Key(c)}, l.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, redis.Nil
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		ttl = 0
	}
	return int(res[0]), ttl, nil
}
