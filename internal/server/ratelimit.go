package server

import (
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// clientLimiter keeps one token bucket per client IP
type clientLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *xsync.Map[string, *rate.Limiter]
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		limit:    limit,
		burst:    burst,
		limiters: xsync.NewMap[string, *rate.Limiter](),
	}
}

// Allow reports whether the client may start another authorization request
func (l *clientLimiter) Allow(clientIP string) bool {
	limiter, _ := l.limiters.LoadOrCompute(clientIP, func() (*rate.Limiter, bool) {
		return rate.NewLimiter(l.limit, l.burst), false
	})
	return limiter.Allow()
}
