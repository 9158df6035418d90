package webhook

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxAge is the largest accepted distance between the webhook
// timestamp and local time, in either direction.
const DefaultMaxAge = 300 * time.Second

// Result is a verification outcome. Body is always the envelope body,
// untouched, whether or not verification succeeded.
type Result struct {
	Body       []byte
	Strategy   string
	Deprecated bool
	Timestamp  string // set by ProfileVerifier for timestamped formats
}

// Verifier checks webhook freshness and HMAC signatures against one shared
// secret.
type Verifier struct {
	secret   Secret
	maxAge   time.Duration
	primary  Strategy
	fallback []Strategy
	now      func() time.Time
	log      logrus.FieldLogger
}

// VerifierOpt configures a Verifier.
type VerifierOpt func(*Verifier)

// WithMaxAge overrides the timestamp tolerance.
func WithMaxAge(d time.Duration) VerifierOpt {
	return func(v *Verifier) {
		if d > 0 {
			v.maxAge = d
		}
	}
}

// WithLegacyFallback enables the deprecated strategies after StandardV1 fails.
func WithLegacyFallback(enabled bool) VerifierOpt {
	return func(v *Verifier) {
		if enabled {
			v.fallback = LegacyStrategies
		} else {
			v.fallback = nil
		}
	}
}

// WithFallbackStrategies replaces the fallback list.
func WithFallbackStrategies(s []Strategy) VerifierOpt {
	return func(v *Verifier) { v.fallback = s }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) VerifierOpt {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) VerifierOpt {
	return func(v *Verifier) {
		if l != nil {
			v.log = l
		}
	}
}

// NewVerifier builds a verifier for secret.
func NewVerifier(secret Secret, opts ...VerifierOpt) *Verifier {
	v := &Verifier{
		secret:  secret,
		maxAge:  DefaultMaxAge,
		primary: StandardV1,
		now:     time.Now,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.WithField("component", "webhook.verifier")
	if secret.IsRaw() {
		v.log.Warn("webhook secret is not base64; using its raw bytes as the HMAC key (deprecated)")
	}
	return v
}

// LegacyEnabled reports whether deprecated strategies are tried.
func (v *Verifier) LegacyEnabled() bool { return len(v.fallback) > 0 }

// Verify checks headers, freshness, then signatures. It does not parse or
// modify the body.
func (v *Verifier) Verify(env Envelope) (Result, error) {
	res := Result{Body: env.Body}

	if env.Signature == "" || env.Timestamp == "" || env.ID == "" {
		return res, ErrMissingHeader
	}
	if !v.fresh(env.Timestamp) {
		return res, ErrExpired
	}
	provided, ok := parseSignatureHeader(env.Signature)
	if !ok {
		return res, ErrBadFormat
	}
	if v.secret.IsZero() {
		return res, ErrMalformedSecret
	}

	msg := env.Message()
	if v.primary.Matches([][]byte{v.secret.key}, msg, provided) {
		res.Strategy = v.primary.Name
		return res, nil
	}

	if len(v.fallback) > 0 {
		keys := v.secret.legacyKeys()
		for _, s := range v.fallback {
			if s.Matches(keys, msg, provided) {
				v.log.WithFields(logrus.Fields{
					"webhook_id": env.ID,
					"strategy":   s.Name,
				}).Warn("webhook accepted by deprecated signature strategy")
				res.Strategy = s.Name
				res.Deprecated = s.Deprecated
				return res, nil
			}
		}
	}
	return res, ErrSignatureMismatch
}

func (v *Verifier) fresh(ts string) bool { return fresh(ts, v.now(), v.maxAge) }

// fresh reports |now - ts| <= maxAge. A timestamp that is not a decimal unix
// time is never fresh.
func fresh(ts string, now time.Time, maxAge time.Duration) bool {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	limit := int64(maxAge / time.Second)
	return sec >= now.Unix()-limit && sec <= now.Unix()+limit
}
