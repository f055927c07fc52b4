package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// sessionLimiters throttles chat sends per session.
type sessionLimiters struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newSessionLimiters(limit rate.Limit, burst int) *sessionLimiters {
	return &sessionLimiters{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (s *sessionLimiters) get(sessionID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[sessionID] = l
	}
	return l
}

func (s *sessionLimiters) drop(sessionID string) {
	s.mu.Lock()
	delete(s.limiters, sessionID)
	s.mu.Unlock()
}
