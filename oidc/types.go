package oidckit

import (
	"strings"
	"time"
)

// VerifiedClaims is the identity extracted from a token whose signature and
// claims have been fully verified. It is only produced by IDTokenVerifier.
type VerifiedClaims struct {
	Subject       string
	Email         string
	EmailVerified *bool
	Name          string
	Issuer        string
	Audience      string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	AuthTime      time.Time

	raw map[string]any
}

// Get returns a claim exactly as decoded from the payload. Numbers are
// json.Number.
func (c *VerifiedClaims) Get(name string) (any, bool) {
	v, ok := c.raw[name]
	return v, ok
}

// Raw returns a copy of every claim in the payload, including the registered
// ones.
func (c *VerifiedClaims) Raw() map[string]any {
	out := make(map[string]any, len(c.raw))
	for k, v := range c.raw {
		out[k] = v
	}
	return out
}

func newVerifiedClaims(raw map[string]any) *VerifiedClaims {
	c := &VerifiedClaims{raw: raw}
	c.Subject, _ = raw["sub"].(string)
	c.Email, _ = raw["email"].(string)
	c.Name, _ = raw["name"].(string)
	c.Issuer, _ = raw["iss"].(string)
	c.Audience, _ = raw["aud"].(string)
	if t, ok, _ := timeClaim(raw, "iat"); ok {
		c.IssuedAt = t
	}
	if t, ok, _ := timeClaim(raw, "exp"); ok {
		c.ExpiresAt = t
	}
	if t, ok, _ := timeClaim(raw, "auth_time"); ok {
		c.AuthTime = t
	}
	switch v := raw["email_verified"].(type) {
	case bool:
		c.EmailVerified = &v
	case string:
		if strings.EqualFold(v, "true") {
			b := true
			c.EmailVerified = &b
		} else if strings.EqualFold(v, "false") {
			b := false
			c.EmailVerified = &b
		}
	}
	return c
}
