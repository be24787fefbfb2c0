package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"nodemesh/logger"
)

// rateLimiter 上报入口的全局令牌桶限流
func rateLimiter(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = int(rps) * 2
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁"})
			return
		}
		c.Next()
	}
}

// requestLogger 请求日志中间件，只记录慢请求和错误
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		if status >= 500 {
			logger.Error("🌐 %s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, status, elapsed)
		} else if elapsed > time.Second {
			logger.Warn("🐢 慢请求: %s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, status, elapsed)
		}
	}
}
