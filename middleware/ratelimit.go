package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit applies a per-client-IP token bucket: r requests per second
// with burst b. Buckets idle for ten minutes are dropped by a background
// sweep so the map does not grow with every IP ever seen.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	var buckets sync.Map

	go func() {
		for range time.Tick(5 * time.Minute) {
			cutoff := time.Now().Add(-10 * time.Minute)
			buckets.Range(func(k, v interface{}) bool {
				if v.(*clientBucket).lastSeen.Before(cutoff) {
					buckets.Delete(k)
				}
				return true
			})
		}
	}()

	return func(c *gin.Context) {
		v, _ := buckets.LoadOrStore(c.ClientIP(), &clientBucket{limiter: rate.NewLimiter(r, b)})
		bucket := v.(*clientBucket)
		bucket.lastSeen = time.Now()
		if !bucket.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				gin.H{"success": false, "message": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
