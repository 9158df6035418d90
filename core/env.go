package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	jwtkit "github.com/PaulFidika/trustkit/jwt"
	oidckit "github.com/PaulFidika/trustkit/oidc"
	"github.com/PaulFidika/trustkit/webhook"
)

// LoadConfigFromEnv builds a Config from environment variables on top of
// DefaultConfig. It does not validate; call Validate or NewService.
//
//	IDENTITY_PROJECT_ID (FIREBASE_PROJECT_ID)   expected aud
//	IDENTITY_PROVIDER                           firebase | firebase-jwks
//	IDENTITY_ISSUER                             default <provider issuer prefix><project>
//	IDENTITY_KEYS_URL, IDENTITY_KEYS_FORMAT
//	IDENTITY_KEYS_FETCH_TIMEOUT, IDENTITY_CLOCK_SKEW
//	IDENTITY_SIGNING_CERTS                      JSON kid -> PEM, pins the keys
//	IDENTITY_SIGNING_CERTS_FILE                 same document read from a file
//	WEBHOOK_SECRET (DODO_PAYMENTS_WEBHOOK_SECRET)
//	WEBHOOK_MAX_AGE, WEBHOOK_LEGACY_FALLBACK, WEBHOOK_ALLOW_RAW_SECRET, WEBHOOK_MAX_BODY_BYTES
//	CALENDLY_WEBHOOK_SECRET, STRIPE_WEBHOOK_SECRET   enable /webhooks/<provider>
//	REPLAY_TTL, REPLAY_FAILURE_POLICY, REDIS_URL, DATABASE_URL, ENV
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	provider := firstEnv("IDENTITY_PROVIDER")
	p, ok := oidckit.DefaultsFor(provider)
	if !ok {
		return cfg, fmt.Errorf("%w: unknown identity provider %q", ErrMisconfigured, provider)
	}
	cfg.Identity.KeysURL = p.KeysURL
	cfg.Identity.KeysFormat = p.KeysFormat

	cfg.Identity.ProjectID = firstEnv("IDENTITY_PROJECT_ID", "FIREBASE_PROJECT_ID")
	cfg.Identity.Issuer = firstEnv("IDENTITY_ISSUER")
	if cfg.Identity.Issuer == "" && cfg.Identity.ProjectID != "" {
		cfg.Identity.Issuer = p.IssuerFor(cfg.Identity.ProjectID)
	}
	if v := firstEnv("IDENTITY_KEYS_URL"); v != "" {
		cfg.Identity.KeysURL = v
	}
	if v := firstEnv("IDENTITY_KEYS_FORMAT"); v != "" {
		cfg.Identity.KeysFormat = strings.ToLower(v)
	}

	var err error
	if cfg.Identity.FetchTimeout, err = envDuration("IDENTITY_KEYS_FETCH_TIMEOUT", cfg.Identity.FetchTimeout); err != nil {
		return cfg, err
	}
	if cfg.Identity.Skew, err = envDuration("IDENTITY_CLOCK_SKEW", cfg.Identity.Skew); err != nil {
		return cfg, err
	}
	pinned, err := jwtkit.LoadCertificateMapFromEnv("IDENTITY_SIGNING_CERTS")
	if err != nil {
		return cfg, fmt.Errorf("%w: IDENTITY_SIGNING_CERTS: %v", ErrMisconfigured, err)
	}
	if pinned == nil {
		if path := firstEnv("IDENTITY_SIGNING_CERTS_FILE"); path != "" {
			pinned, err = jwtkit.LoadCertificateMapFromFile(path)
			if err != nil {
				return cfg, fmt.Errorf("%w: IDENTITY_SIGNING_CERTS_FILE: %v", ErrMisconfigured, err)
			}
		}
	}
	cfg.Identity.PinnedCertificates = pinned

	cfg.Webhook.Secret = firstEnv("WEBHOOK_SECRET", "DODO_PAYMENTS_WEBHOOK_SECRET")
	if cfg.Webhook.MaxAge, err = envDuration("WEBHOOK_MAX_AGE", cfg.Webhook.MaxAge); err != nil {
		return cfg, err
	}
	if cfg.Webhook.LegacyFallback, err = envBool("WEBHOOK_LEGACY_FALLBACK", false); err != nil {
		return cfg, err
	}
	if cfg.Webhook.AllowRawSecret, err = envBool("WEBHOOK_ALLOW_RAW_SECRET", false); err != nil {
		return cfg, err
	}
	if v := firstEnv("WEBHOOK_MAX_BODY_BYTES"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || n <= 0 {
			return cfg, fmt.Errorf("%w: WEBHOOK_MAX_BODY_BYTES must be a positive integer", ErrMisconfigured)
		}
		cfg.Webhook.MaxBodyBytes = n
	}

	for name, key := range map[string]string{
		webhook.Calendly.Name: "CALENDLY_WEBHOOK_SECRET",
		webhook.Stripe.Name:   "STRIPE_WEBHOOK_SECRET",
	} {
		if v := firstEnv(key); v != "" {
			if cfg.Webhook.ProviderSecrets == nil {
				cfg.Webhook.ProviderSecrets = map[string]string{}
			}
			cfg.Webhook.ProviderSecrets[name] = v
		}
	}

	if cfg.Replay.TTL, err = envDuration("REPLAY_TTL", cfg.Replay.TTL); err != nil {
		return cfg, err
	}
	policy, err := webhook.ParseFailurePolicy(firstEnv("REPLAY_FAILURE_POLICY"))
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	cfg.Replay.FailurePolicy = policy
	cfg.Replay.RedisURL = firstEnv("REDIS_URL")
	cfg.Replay.DatabaseURL = firstEnv("DATABASE_URL")
	cfg.Env = firstEnv("ENV", "APP_ENV")
	return cfg, nil
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := firstEnv(name)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s: %v", ErrMisconfigured, name, err)
	}
	return d, nil
}

func envBool(name string, def bool) (bool, error) {
	v := firstEnv(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s: %v", ErrMisconfigured, name, err)
	}
	return b, nil
}
