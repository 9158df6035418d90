package oidckit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultFetchTimeout bounds a single key-document fetch.
const DefaultFetchTimeout = 5 * time.Second

// KeySet is an immutable snapshot of the provider's signing keys: key id to
// PEM-encoded certificate or public key.
type KeySet struct {
	keys      map[string][]byte
	FetchedAt time.Time
}

// NewKeySet copies keys into a new KeySet.
func NewKeySet(keys map[string][]byte, fetchedAt time.Time) *KeySet {
	cp := make(map[string][]byte, len(keys))
	for kid, material := range keys {
		cp[kid] = append([]byte(nil), material...)
	}
	return &KeySet{keys: cp, FetchedAt: fetchedAt}
}

// Lookup returns the key material for kid.
func (s *KeySet) Lookup(kid string) ([]byte, bool) {
	if s == nil {
		return nil, false
	}
	m, ok := s.keys[kid]
	return m, ok
}

// KeyIDs returns the key ids in sorted order.
func (s *KeySet) KeyIDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}

func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// KeySource is what the token verifier needs from a key cache.
type KeySource interface {
	Keys(ctx context.Context) (*KeySet, error)
	Invalidate()
}

// KeyCache holds the provider's current KeySet for the process lifetime. There
// is no TTL: the set is replaced only after Invalidate forces a refetch.
type KeyCache struct {
	fetcher KeyFetcher
	timeout time.Duration
	now     func() time.Time
	log     logrus.FieldLogger

	mu    sync.RWMutex
	set   *KeySet
	group singleflight.Group
}

// KeyCacheOpt configures a KeyCache.
type KeyCacheOpt func(*KeyCache)

// WithFetchTimeout bounds each fetch. A timeout is reported as
// ErrKeysUnavailable.
func WithFetchTimeout(d time.Duration) KeyCacheOpt {
	return func(c *KeyCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCacheLogger sets the logger used for fetch outcomes.
func WithCacheLogger(l logrus.FieldLogger) KeyCacheOpt {
	return func(c *KeyCache) {
		if l != nil {
			c.log = l
		}
	}
}

// NewKeyCache creates an empty cache backed by fetcher.
func NewKeyCache(fetcher KeyFetcher, opts ...KeyCacheOpt) *KeyCache {
	c := &KeyCache{
		fetcher: fetcher,
		timeout: DefaultFetchTimeout,
		now:     time.Now,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "oidc.keycache")
	return c
}

// Keys returns the cached KeySet, fetching it on a miss. Concurrent misses
// share one fetch. A failed fetch yields ErrKeysUnavailable and leaves the
// cache empty.
func (c *KeyCache) Keys(ctx context.Context) (*KeySet, error) {
	c.mu.RLock()
	set := c.set
	c.mu.RUnlock()
	if set != nil {
		return set, nil
	}

	ch := c.group.DoChan("keys", func() (any, error) {
		return c.fill(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, ctx.Err())
	}
}

// Invalidate drops the cached KeySet so the next Keys call refetches.
func (c *KeyCache) Invalidate() {
	c.mu.Lock()
	c.set = nil
	c.mu.Unlock()
}

func (c *KeyCache) fill(ctx context.Context) (*KeySet, error) {
	// The fetch is shared by every waiting caller, so it must not die with the
	// first caller's context; it has its own deadline instead.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	keys, err := c.fetcher.FetchKeys(fctx)
	if err != nil {
		c.log.WithError(err).Error("signing key fetch failed")
		return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	if len(keys) == 0 {
		c.log.Error("signing key document is empty")
		return nil, fmt.Errorf("%w: empty key document", ErrKeysUnavailable)
	}
	set := NewKeySet(keys, c.now())

	c.mu.Lock()
	c.set = set
	c.mu.Unlock()

	c.log.WithField("keys", set.Len()).Info("fetched signing keys")
	return set, nil
}
