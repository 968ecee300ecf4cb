package ratelimiter

import "time"

type Limiter interface {
	// Allow records one request for key and reports whether it fits in the
	// current window. When it does not, retryAfter is the time left in the
	// window.
	Allow(key string) (allowed bool, retryAfter time.Duration)
	Limit() int
}

type Config struct {
	RequestsPerTimeFrame int
	TimeFrame            time.Duration
	Enabled              bool
	RedisAddr            string
	RedisPassword        string
}
