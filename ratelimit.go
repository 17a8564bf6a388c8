package toolgate

import (
	"sync"

	"golang.org/x/time/rate"
)

// sessionLimiter applies a token-bucket rate limit per session id. Each
// session gets an independent limiter; limiters are dropped together with
// their session.
type sessionLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newSessionLimiter(limit rate.Limit, burst int) *sessionLimiter {
	return &sessionLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the session is within its rate limit. Safe for
// concurrent use.
func (l *sessionLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[sessionID] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}

// Forget drops the limiter for a destroyed session.
func (l *sessionLimiter) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.limiters, sessionID)
	l.mu.Unlock()
}

// len is a test hook.
func (l *sessionLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
