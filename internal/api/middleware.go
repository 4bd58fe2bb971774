package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type ctxKey string

const requestIDKey ctxKey = "requestID"

// bearerToken reads the Authorization header, falling back to the session cookie.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if v, err := c.Cookie(settings.CookieName); err == nil {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	return ""
}

// AuthMiddleware authenticates portal API calls with a login token and loads
// the user. Tokens of any other type are refused.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		if tokens == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token service not configured"})
			return
		}
		claims, err := tokens.Verify(raw)
		if err != nil || claims.Type != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Could not validate credentials"})
			return
		}
		user, err := store().UserByEmail(c.Request.Context(), claims.Subject)
		if errors.Is(err, registry.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}
		if err != nil {
			log.WithError(err).Error("auth: user lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !user.IsAdmin && user.Status != database.UserApproved {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Account is " + string(user.Status)})
			return
		}
		c.Set("user", user)
		c.Set("userID", user.ID)
		c.Set("isAdmin", user.IsAdmin)
		c.Next()
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool("isAdmin") {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin privileges required"})
	}
}

func currentUser(c *gin.Context) *database.User {
	if v, ok := c.Get("user"); ok {
		if u, ok := v.(*database.User); ok {
			return u
		}
	}
	return nil
}

// RequestIDMiddleware ensures every request has an X-Request-ID. If absent, generate one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.New().String()
		}
		ctx := context.WithValue(c.Request.Context(), requestIDKey, rid)
		c.Request = c.Request.WithContext(ctx)
		c.Set("requestID", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

// reqLog carries the request id into handler log lines.
func reqLog(c *gin.Context) *log.Entry {
	return log.WithField("request_id", c.GetString("requestID"))
}

// Simple in-memory IP rate limiter (fixed window)
type clientWindow struct {
	count       int
	windowStart time.Time
}

type ipLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientWindow
	limit     int
	window    time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		clients: make(map[string]*clientWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (l *ipLimiter) allow(ip string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(now)
	}
	cw, ok := l.clients[ip]
	if !ok {
		l.clients[ip] = &clientWindow{count: 1, windowStart: now}
		return true, 0
	}
	if now.Sub(cw.windowStart) >= l.window {
		cw.count = 1
		cw.windowStart = now
		return true, 0
	}
	if cw.count < l.limit {
		cw.count++
		return true, 0
	}
	retryAfter := l.window - now.Sub(cw.windowStart)
	return false, retryAfter
}

// sweep drops clients whose window has ended. Caller holds mu.
func (l *ipLimiter) sweep(now time.Time) {
	for ip, cw := range l.clients {
		if now.Sub(cw.windowStart) >= l.window {
			delete(l.clients, ip)
		}
	}
	l.lastSweep = now
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()
	if net.ParseIP(ip) == nil {
		return "unknown"
	}
	return ip
}

// RateLimitMiddleware limits requests per client IP. Used on /login and /register.
func RateLimitMiddleware(limitPerMinute int) gin.HandlerFunc {
	if limitPerMinute <= 0 {
		limitPerMinute = 30
	}
	limiter := newIPLimiter(limitPerMinute, time.Minute)
	return func(c *gin.Context) {
		ok, retryAfter := limiter.allow(clientIP(c))
		if !ok {
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Try again later."})
			return
		}
		c.Next()
	}
}

// RedisRateLimitMiddleware shares the per-minute window across replicas
// through rc, falling back to the in-memory limiter when Redis is unreachable.
func RedisRateLimitMiddleware(rc *redis.Client, limitPerMinute int) gin.HandlerFunc {
	local := RateLimitMiddleware(limitPerMinute)
	if rc == nil {
		return local
	}
	if limitPerMinute <= 0 {
		limitPerMinute = 30
	}
	return func(c *gin.Context) {
		now := time.Now().UTC()
		key := fmt.Sprintf("portal:rl:%s:%s", clientIP(c), now.Format("200601021504"))
		ctx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
		defer cancel()

		n, err := rc.Incr(ctx, key).Result()
		if err != nil {
			local(c)
			return
		}
		if n == 1 {
			_ = rc.Expire(ctx, key, 61*time.Second).Err()
		}
		if int(n) > limitPerMinute {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Try again later."})
			return
		}
		c.Next()
	}
}
