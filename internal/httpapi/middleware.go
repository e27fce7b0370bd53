package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tillbook/backend/internal/xid"
)

const (
	maxBodyBytes      = 1 << 20
	requestIDHeader   = "X-Request-ID"
	requestIDKey      = "request_id"
	requestIDPrefix   = "req"
	limiterEntryTTL   = 10 * time.Minute
	limiterSweepEvery = 256
)

// attemptLimiter throttles guarded attempts per client key with a token
// bucket per key. Idle keys are swept lazily.
type attemptLimiter struct {
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	entries map[string]*limiterEntry
	calls   int
	now     func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newAttemptLimiter allows max attempts per window, refilling evenly.
func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{
		rate:    rate.Every(window / time.Duration(max)),
		burst:   max,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%limiterSweepEvery == 0 {
		cutoff := now.Add(-limiterEntryTTL)
		for k, entry := range l.entries {
			if entry.lastSeen.Before(cutoff) {
				delete(l.entries, k)
			}
		}
	}

	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// requestLogger keeps an incoming X-Request-ID only when it has the
// req-<uuid> shape this server mints, so client text never reaches the logs.
func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if !xid.Valid(requestIDPrefix, requestID) {
			requestID = xid.New(requestIDPrefix)
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			a.logger.Error("request", fields...)
			return
		}
		a.logger.Info("request", fields...)
	}
}

func (a *API) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		a.logger.Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.Request.URL.Path),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		c.Next()
	}
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Accept", "Authorization", "Content-Type", "Origin", requestIDHeader},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "Content-Disposition", requestIDHeader},
		MaxAge:        12 * time.Hour,
	}

	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cors.New(cfg)
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		origins = []string{"http://127.0.0.1:3000", "http://localhost:3000"}
	}
	cfg.AllowOrigins = origins
	return cors.New(cfg)
}
