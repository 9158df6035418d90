package core

import (
	"fmt"
	"strings"
	"time"

	oidckit "github.com/PaulFidika/trustkit/oidc"
	"github.com/PaulFidika/trustkit/webhook"
)

// Config configures inbound trust verification.
type Config struct {
	Identity IdentityConfig
	Webhook  WebhookConfig
	Replay   ReplayConfig
	// Env is the deployment environment; "prod" and "production" enable the
	// production checks in Validate.
	Env string
}

// IdentityConfig describes how to accept identity tokens from one provider
// project.
type IdentityConfig struct {
	ProjectID    string // expected aud
	Issuer       string // expected iss, exact match
	KeysURL      string
	KeysFormat   string // oidckit.FormatX509 or oidckit.FormatJWKS
	FetchTimeout time.Duration
	Skew         time.Duration
	// PinnedCertificates replaces the fetched key document when set.
	PinnedCertificates map[string][]byte
}

// WebhookConfig configures webhook signature verification.
type WebhookConfig struct {
	Secret         string
	MaxAge         time.Duration
	LegacyFallback bool
	AllowRawSecret bool
	MaxBodyBytes   int64
	// ProviderSecrets enables the native-format receivers in
	// webhook.Profiles, keyed by profile name. The secrets are used as-is.
	ProviderSecrets map[string]string
}

// ReplayConfig configures the replay guard and where its marks live.
type ReplayConfig struct {
	TTL           time.Duration
	FailurePolicy webhook.FailurePolicy
	RedisURL      string
	DatabaseURL   string
}

// DefaultConfig returns the firebase provider defaults with no project or
// secret set.
func DefaultConfig() Config {
	p, _ := oidckit.DefaultsFor("firebase")
	return Config{
		Identity: IdentityConfig{
			KeysURL:      p.KeysURL,
			KeysFormat:   p.KeysFormat,
			FetchTimeout: oidckit.DefaultFetchTimeout,
			Skew:         oidckit.DefaultClockSkew,
		},
		Webhook: WebhookConfig{
			MaxAge:       webhook.DefaultMaxAge,
			MaxBodyBytes: webhook.DefaultMaxBodyBytes,
		},
		Replay: ReplayConfig{
			TTL:           webhook.DefaultReplayTTL,
			FailurePolicy: webhook.FailClosed,
		},
	}
}

// IsProduction reports whether Env names a production deployment.
func (c Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "prod", "production":
		return true
	}
	return false
}

// HasSharedReplayStore reports whether a store shared across processes is
// configured.
func (c Config) HasSharedReplayStore() bool {
	return c.Replay.RedisURL != "" || c.Replay.DatabaseURL != ""
}

// Validate fails with ErrMisconfigured when anything required is absent. The
// service must not start on a failed Validate.
func (c Config) Validate() error {
	return c.validate(c.HasSharedReplayStore())
}

func (c Config) validate(sharedStore bool) error {
	var problems []string
	if strings.TrimSpace(c.Identity.ProjectID) == "" {
		problems = append(problems, "identity project id (audience) is required")
	}
	if strings.TrimSpace(c.Identity.Issuer) == "" {
		problems = append(problems, "identity issuer is required")
	}
	if c.Identity.KeysURL == "" && len(c.Identity.PinnedCertificates) == 0 {
		problems = append(problems, "identity keys url or pinned certificates required")
	}
	switch c.Identity.KeysFormat {
	case "", oidckit.FormatX509, oidckit.FormatJWKS:
	default:
		problems = append(problems, fmt.Sprintf("unknown identity keys format %q", c.Identity.KeysFormat))
	}
	if c.Identity.FetchTimeout <= 0 {
		problems = append(problems, "identity key fetch timeout must be positive")
	}
	if c.Identity.Skew < 0 {
		problems = append(problems, "identity clock skew must not be negative")
	}
	if _, err := c.parseSecret(); err != nil {
		problems = append(problems, err.Error())
	}
	for name, secret := range c.Webhook.ProviderSecrets {
		if _, ok := webhook.Profiles[name]; !ok {
			problems = append(problems, fmt.Sprintf("unknown webhook provider %q", name))
		} else if secret == "" {
			problems = append(problems, fmt.Sprintf("webhook provider %q has an empty secret", name))
		}
	}
	if c.Webhook.MaxAge <= 0 {
		problems = append(problems, "webhook max age must be positive")
	}
	if c.Replay.TTL <= 0 {
		problems = append(problems, "replay ttl must be positive")
	}
	if c.Replay.TTL > 0 && c.Webhook.MaxAge > 0 && c.Replay.TTL < 2*c.Webhook.MaxAge {
		problems = append(problems, "replay ttl must cover the webhook freshness window")
	}
	if c.IsProduction() && !sharedStore {
		problems = append(problems, "production requires a shared replay store (REDIS_URL or DATABASE_URL)")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrMisconfigured, strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) parseSecret() (webhook.Secret, error) {
	if c.Webhook.AllowRawSecret {
		return webhook.ParseSecretAllowRaw(c.Webhook.Secret)
	}
	return webhook.ParseSecret(c.Webhook.Secret)
}
