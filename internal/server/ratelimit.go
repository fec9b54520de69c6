package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces a per-client request rate over a sliding minute and
// a daily upload quota.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int   // 0 disables
	maxDataPerDay     int64 // bytes, 0 disables

	clients map[string]*clientUsage
	now     func() time.Time
}

// clientUsage tracks one client. requests holds the timestamps of requests
// accepted during the last minute, oldest first.
type clientUsage struct {
	requests  []time.Time
	dataToday int64
	day       time.Time
}

// NewRateLimiter creates a rate limiter with the given limits.
func NewRateLimiter(requestsPerMinute int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*clientUsage),
		now:               time.Now,
	}
}

// Allow records a request of dataSize bytes from client, or returns a
// *RateLimitError without recording it when a limit would be exceeded.
func (rl *RateLimiter) Allow(client string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage, ok := rl.clients[client]
	if !ok {
		usage = &clientUsage{day: startOfDay(now)}
		rl.clients[client] = usage
	}
	if today := startOfDay(now); !today.Equal(usage.day) {
		usage.day = today
		usage.dataToday = 0
	}

	cutoff := now.Add(-time.Minute)
	drop := 0
	for drop < len(usage.requests) && !usage.requests[drop].After(cutoff) {
		drop++
	}
	usage.requests = usage.requests[drop:]

	if rl.requestsPerMinute > 0 && len(usage.requests) >= rl.requestsPerMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      int64(rl.requestsPerMinute),
			RetryAfter: usage.requests[0].Add(time.Minute).Sub(now),
		}
	}
	if rl.maxDataPerDay > 0 && usage.dataToday+dataSize > rl.maxDataPerDay {
		return &RateLimitError{
			Type:       "data",
			Limit:      rl.maxDataPerDay,
			RetryAfter: usage.day.AddDate(0, 0, 1).Sub(now),
		}
	}

	usage.requests = append(usage.requests, now)
	usage.dataToday += dataSize
	return nil
}

// Usage returns the requests counted in the current minute and the bytes
// counted today for client.
func (rl *RateLimiter) Usage(client string) (requests int, dataToday int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if usage, ok := rl.clients[client]; ok {
		return len(usage.requests), usage.dataToday
	}
	return 0, 0
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// RateLimitError reports which limit was hit and when to retry.
type RateLimitError struct {
	Type       string // "minute" or "data"
	Limit      int64
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter.Round(time.Second))
}
