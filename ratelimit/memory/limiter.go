package memorylimiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// BucketWebhook limits inbound webhook deliveries per client address.
const BucketWebhook = "webhook"

// Limit defines window and max count for a bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// DefaultLimits allows 100 webhook deliveries per minute per key.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{BucketWebhook: {Limit: 100, Window: time.Minute}}
}

// Limiter is an in-memory sliding-window rate limiter for a single node.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string][]time.Time
	now     func() time.Time
}

// New constructs a limiter with the provided per-bucket limits. Unknown
// buckets use "default", then 100 per minute.
func New(limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Limiter{
		limits:  limits,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *Limiter) get(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return Limit{Limit: 100, Window: time.Minute}
}

// AllowNamed records a hit for key in bucket and reports whether it is within
// the limit. Denied hits are not recorded.
func (l *Limiter) AllowNamed(ctx context.Context, bucket, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("bucket and key required")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	lim := l.get(bucket)
	now := l.now()
	windowStart := now.Add(-lim.Window)
	limitKey := key + ":" + bucket

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.buckets[limitKey]
	i := 0
	for i < len(hits) && !hits[i].After(windowStart) {
		i++
	}
	hits = hits[i:]

	if len(hits) >= lim.Limit {
		l.buckets[limitKey] = hits
		return false, nil
	}
	l.buckets[limitKey] = append(hits, now)
	return true, nil
}

// DefaultSweepSchedule is how often StartSweeper drops idle keys.
const DefaultSweepSchedule = "@every 1m"

// Sweep drops keys with no hits inside their bucket's window.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, hits := range l.buckets {
		bucket := k[strings.LastIndexByte(k, ':')+1:]
		if len(hits) == 0 || !hits[len(hits)-1].After(now.Add(-l.get(bucket).Window)) {
			delete(l.buckets, k)
		}
	}
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// StartSweeper runs Sweep on a cron spec (DefaultSweepSchedule when empty).
// Without it, every client address ever seen keeps an entry.
func (l *Limiter) StartSweeper(spec string) (stop func(), err error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, l.Sweep); err != nil {
		return nil, err
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
