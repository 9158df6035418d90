package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultReplayTTL is how long a processed webhook id is remembered.
const DefaultReplayTTL = 24 * time.Hour

// ReplayStore is a shared store with an atomic check-and-set.
type ReplayStore interface {
	// MarkIfAbsent records id for ttl and reports whether it was absent. Two
	// concurrent calls for the same id never both return true.
	MarkIfAbsent(ctx context.Context, id string, ttl time.Duration) (bool, error)
	// Release forgets id so a redelivery is processed.
	Release(ctx context.Context, id string) error
}

// FailurePolicy decides what ShouldProcess answers when the store errors.
type FailurePolicy int

const (
	// FailClosed rejects the delivery; the sender retries later.
	FailClosed FailurePolicy = iota
	// FailOpen processes the delivery and relies on idempotent handlers.
	FailOpen
)

func (p FailurePolicy) String() string {
	if p == FailOpen {
		return "open"
	}
	return "closed"
}

// ParseFailurePolicy accepts "closed" or "open". Empty means closed.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "closed", "fail-closed":
		return FailClosed, nil
	case "open", "fail-open":
		return FailOpen, nil
	default:
		return FailClosed, fmt.Errorf("unknown replay failure policy %q", s)
	}
}

// ReplayGuard enforces at-most-once processing per webhook id across every
// process sharing the store.
type ReplayGuard struct {
	store  ReplayStore
	ttl    time.Duration
	policy FailurePolicy
	log    logrus.FieldLogger
}

// ReplayOpt configures a ReplayGuard.
type ReplayOpt func(*ReplayGuard)

func WithTTL(d time.Duration) ReplayOpt {
	return func(g *ReplayGuard) {
		if d > 0 {
			g.ttl = d
		}
	}
}

func WithFailurePolicy(p FailurePolicy) ReplayOpt {
	return func(g *ReplayGuard) { g.policy = p }
}

func WithReplayLogger(l logrus.FieldLogger) ReplayOpt {
	return func(g *ReplayGuard) {
		if l != nil {
			g.log = l
		}
	}
}

// NewReplayGuard builds a guard over store. The default policy is FailClosed.
func NewReplayGuard(store ReplayStore, opts ...ReplayOpt) *ReplayGuard {
	g := &ReplayGuard{
		store:  store,
		ttl:    DefaultReplayTTL,
		policy: FailClosed,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.WithField("component", "webhook.replay")
	return g
}

func (g *ReplayGuard) TTL() time.Duration     { return g.ttl }
func (g *ReplayGuard) Policy() FailurePolicy { return g.policy }

// ShouldProcess reports whether this is the first delivery of id within the
// TTL. Under FailClosed a store error yields false and ErrStoreUnavailable;
// under FailOpen it yields true. A cancelled context never marks.
func (g *ReplayGuard) ShouldProcess(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: empty webhook id", ErrMissingHeader)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	first, err := g.store.MarkIfAbsent(ctx, id, g.ttl)
	if err != nil {
		entry := g.log.WithError(err).WithField("webhook_id", id)
		if g.policy == FailOpen {
			entry.Error("replay store unavailable; processing webhook without replay protection")
			return true, nil
		}
		entry.Error("replay store unavailable; rejecting webhook")
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !first {
		g.log.WithField("webhook_id", id).Info("duplicate webhook ignored")
	}
	return first, nil
}

// Release forgets id after a failed downstream effect so the sender's retry
// is processed.
func (g *ReplayGuard) Release(ctx context.Context, id string) error {
	if err := g.store.Release(ctx, id); err != nil {
		g.log.WithError(err).WithField("webhook_id", id).Error("failed to release replay mark")
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
