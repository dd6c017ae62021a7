package access

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BucketName is one of the three named quotas spec.md §4.D defines.
type BucketName string

const (
	BucketRequests BucketName = "requests"
	BucketSearches BucketName = "searches"
	BucketWrites   BucketName = "writes"
)

// BucketLimits configures the refill rate and burst for one named bucket,
// matching spec.md §4.D's defaults: 1000 req/min, 100 searches/min,
// 500 writes/min.
type BucketLimits struct {
	PerMinute int
	Burst     int
}

// DefaultLimits returns spec.md §4.D's default per-agent quotas.
func DefaultLimits() map[BucketName]BucketLimits {
	return map[BucketName]BucketLimits{
		BucketRequests: {PerMinute: 1000, Burst: 1000},
		BucketSearches: {PerMinute: 100, Burst: 100},
		BucketWrites:   {PerMinute: 500, Burst: 500},
	}
}

// RateLimiter holds one token bucket per (agent, bucket-name) pair, created
// lazily on first use. golang.org/x/time/rate's Limiter already implements
// the compare-and-swap-updated token bucket spec.md §5 calls for; this type
// only adds the per-agent, per-bucket-name sharding on top of it.
type RateLimiter struct {
	limits map[BucketName]BucketLimits

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter wires custom limits, or spec.md's defaults when limits is
// nil.
func NewRateLimiter(limits map[BucketName]BucketLimits) *RateLimiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &RateLimiter{
		limits:   limits,
		limiters: make(map[string]*rate.Limiter),
	}
}

func key(agentID string, bucket BucketName) string {
	return agentID + "\x00" + string(bucket)
}

func (r *RateLimiter) limiterFor(agentID string, bucket BucketName) *rate.Limiter {
	k := key(agentID, bucket)

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[k]; ok {
		return l
	}
	lim := r.limits[bucket]
	if lim.PerMinute == 0 {
		lim = BucketLimits{PerMinute: 1000, Burst: 1000}
	}
	perSecond := rate.Limit(float64(lim.PerMinute) / 60.0)
	l := rate.NewLimiter(perSecond, lim.Burst)
	r.limiters[k] = l
	return l
}

// Allow reports whether agentID may perform one more operation in bucket
// right now, consuming a token if so.
func (r *RateLimiter) Allow(agentID string, bucket BucketName) bool {
	return r.limiterFor(agentID, bucket).Allow()
}

// RetryAfterSeconds estimates how long the caller should back off before
// retrying, capped at 60s per spec.md §8 property S7.
func (r *RateLimiter) RetryAfterSeconds(agentID string, bucket BucketName) int {
	l := r.limiterFor(agentID, bucket)
	reservation := l.ReserveN(time.Now(), 1)
	defer reservation.Cancel()
	delay := reservation.Delay()
	seconds := int(delay/time.Second) + 1
	if seconds > 60 {
		seconds = 60
	}
	if seconds < 0 {
		seconds = 0
	}
	return seconds
}
