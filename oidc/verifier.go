package oidckit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	jwtkit "github.com/PaulFidika/trustkit/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// DefaultClockSkew is the allowance for an iat slightly ahead of local time.
const DefaultClockSkew = 60 * time.Second

// longExpiredAfter separates "just expired" tokens (client clock drift or a
// refresh race) from stale ones in logs. The decision is the same.
const longExpiredAfter = 60 * time.Second

// IDTokenVerifier validates RS256 identity tokens against one audience and
// issuer, resolving signing keys through a KeySource.
type IDTokenVerifier struct {
	issuer   string
	audience string
	keys     KeySource
	skew     time.Duration
	now      func() time.Time
	log      logrus.FieldLogger
}

// VerifierOpt configures an ID token verifier.
type VerifierOpt func(*IDTokenVerifier)

// WithClockSkew overrides the iat allowance.
func WithClockSkew(d time.Duration) VerifierOpt {
	return func(v *IDTokenVerifier) {
		if d >= 0 {
			v.skew = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) VerifierOpt {
	return func(v *IDTokenVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger for rejection diagnostics.
func WithLogger(l logrus.FieldLogger) VerifierOpt {
	return func(v *IDTokenVerifier) {
		if l != nil {
			v.log = l
		}
	}
}

// NewIDTokenVerifier builds a verifier for the specified issuer and audience.
func NewIDTokenVerifier(issuer, audience string, keys KeySource, opts ...VerifierOpt) *IDTokenVerifier {
	v := &IDTokenVerifier{
		issuer:   issuer,
		audience: audience,
		keys:     keys,
		skew:     DefaultClockSkew,
		now:      time.Now,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.WithField("component", "oidc.verifier")
	return v
}

func (v *IDTokenVerifier) Issuer() string   { return v.issuer }
func (v *IDTokenVerifier) Audience() string { return v.audience }

// Verify is shorthand for VerifyIDToken(ctx, rawToken, v).
func (v *IDTokenVerifier) Verify(ctx context.Context, rawToken string) (*VerifiedClaims, error) {
	return VerifyIDToken(ctx, rawToken, v)
}

// VerifyIDToken validates the ID token and extracts claims. Every failure is
// terminal; the only retry is a single key refetch when the kid is not in the
// cached set.
func VerifyIDToken(ctx context.Context, rawToken string, v *IDTokenVerifier) (*VerifiedClaims, error) {
	if v == nil {
		return nil, errors.New("oidc: missing verifier")
	}
	if v.keys == nil {
		return nil, errors.New("oidc: missing key source")
	}

	seg, err := jwtkit.SplitToken(rawToken)
	if err != nil {
		return nil, ErrInvalidFormat
	}

	hdrJSON, err := jwtkit.DecodeSegment(seg.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	var hdr map[string]any
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil || hdr == nil {
		return nil, ErrInvalidHeader
	}

	if alg, _ := hdr["alg"].(string); alg != jwt.SigningMethodRS256.Alg() {
		return nil, ErrUnsupportedAlgorithm
	}
	kid, _ := hdr["kid"].(string)
	if kid == "" {
		return nil, ErrMissingKeyID
	}

	keyPEM, err := v.lookupKey(ctx, kid)
	if err != nil {
		return nil, err
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(keyPEM)
	if err != nil {
		v.log.WithError(err).WithField("kid", kid).Error("cached signing key is not a usable RSA key")
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	sig, err := jwtkit.DecodeSegment(seg.Signature)
	if err != nil {
		return nil, ErrSignatureInvalid
	}
	if err := jwt.SigningMethodRS256.Verify(seg.SigningInput(), sig, pub); err != nil {
		return nil, ErrSignatureInvalid
	}

	payload, err := jwtkit.DecodeSegment(seg.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
	raw, err := decodeClaims(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
	if err := v.validateClaims(raw); err != nil {
		return nil, err
	}
	return newVerifiedClaims(raw), nil
}

func (v *IDTokenVerifier) lookupKey(ctx context.Context, kid string) ([]byte, error) {
	set, err := v.keys.Keys(ctx)
	if err != nil {
		// Only an unknown kid earns a refetch; an outage would just fail twice.
		return nil, err
	}
	if m, ok := set.Lookup(kid); ok {
		return m, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, ctx.Err())
	}

	v.log.WithField("kid", kid).Debug("kid not in cached key set; refetching")
	v.keys.Invalidate()
	set, err = v.keys.Keys(ctx)
	if err != nil {
		return nil, err
	}
	m, ok := set.Lookup(kid)
	if !ok {
		return nil, ErrUnknownKey
	}
	return m, nil
}

func (v *IDTokenVerifier) validateClaims(raw map[string]any) error {
	if aud, _ := raw["aud"].(string); aud != v.audience {
		return ErrAudienceMismatch
	}
	if iss, _ := raw["iss"].(string); iss != v.issuer {
		return ErrIssuerMismatch
	}

	now := v.now()
	exp, _, err := timeClaim(raw, "exp")
	if err != nil {
		return fmt.Errorf("%w: exp: %v", ErrInvalidClaims, err)
	}
	// A missing exp reads as the epoch, which is always expired.
	if exp.Before(now) {
		age := now.Sub(exp)
		entry := v.log.WithField("expired_for", age.Round(time.Second).String())
		if age <= longExpiredAfter {
			entry.Debug("token just expired")
		} else {
			entry.Info("token long expired")
		}
		return ErrExpired
	}

	iat, _, err := timeClaim(raw, "iat")
	if err != nil {
		return fmt.Errorf("%w: iat: %v", ErrInvalidClaims, err)
	}
	if iat.After(now.Add(v.skew)) {
		return ErrIssuedInFuture
	}

	if _, ok := raw["auth_time"]; !ok {
		return fmt.Errorf("%w: auth_time", ErrMissingClaim)
	}
	return nil
}

func decodeClaims(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("claims are not a JSON object")
	}
	if dec.More() {
		return nil, errors.New("trailing data after claims")
	}
	return raw, nil
}

// timeClaim reads a NumericDate claim. An absent claim yields the Unix epoch
// and ok=false.
func timeClaim(raw map[string]any, name string) (time.Time, bool, error) {
	v, present := raw[name]
	if !present {
		return time.Unix(0, 0), false, nil
	}
	var f float64
	switch n := v.(type) {
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return time.Time{}, false, err
		}
		f = x
	case float64:
		f = n
	default:
		return time.Time{}, false, fmt.Errorf("%s is not a number", name)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false, fmt.Errorf("%s is not finite", name)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true, nil
}
