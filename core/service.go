package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oidckit "github.com/PaulFidika/trustkit/oidc"
	memorystore "github.com/PaulFidika/trustkit/storage/memory"
	"github.com/PaulFidika/trustkit/webhook"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Principal is the authenticated caller behind a bearer token.
type Principal struct {
	UserID  uuid.UUID // uuid.Nil when no UserResolver is configured
	Subject string
	Email   string
	Claims  *oidckit.VerifiedClaims
}

// UserResolver maps verified claims to a local user id.
type UserResolver interface {
	ResolveUser(ctx context.Context, claims *oidckit.VerifiedClaims) (uuid.UUID, error)
}

// EventDispatcher hands an accepted webhook body to downstream processing.
type EventDispatcher interface {
	Dispatch(ctx context.Context, id, timestamp string, body []byte) error
}

// DispatcherFunc adapts a function to EventDispatcher.
type DispatcherFunc func(ctx context.Context, id, timestamp string, body []byte) error

func (f DispatcherFunc) Dispatch(ctx context.Context, id, timestamp string, body []byte) error {
	return f(ctx, id, timestamp, body)
}

// WebhookOutcome is the result of an accepted webhook delivery.
type WebhookOutcome string

const (
	OutcomeProcessed WebhookOutcome = "processed"
	OutcomeDuplicate WebhookOutcome = "duplicate"
)

// Service composes the token verifier, webhook verifier and replay guard.
type Service struct {
	cfg      Config
	log      logrus.FieldLogger
	keys     *oidckit.KeyCache
	tokens   *oidckit.IDTokenVerifier
	webhooks *webhook.Verifier
	profiles map[string]*webhook.ProfileVerifier
	replay   *webhook.ReplayGuard
	users    UserResolver
	dispatch EventDispatcher
	events   TrustEventLogger
	metrics  *Metrics
	closers  []func() error
}

type serviceOptions struct {
	log      logrus.FieldLogger
	store    webhook.ReplayStore
	users    UserResolver
	dispatch EventDispatcher
	events   TrustEventLogger
	metrics  *Metrics
	fetcher  oidckit.KeyFetcher
	client   *http.Client
	now      func() time.Time
}

// Option configures NewService.
type Option func(*serviceOptions)

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *serviceOptions) { o.log = l }
}

// WithReplayStore sets the store shared by every instance. Without it the
// service keeps marks in process memory.
func WithReplayStore(s webhook.ReplayStore) Option {
	return func(o *serviceOptions) { o.store = s }
}

func WithUserResolver(r UserResolver) Option {
	return func(o *serviceOptions) { o.users = r }
}

func WithDispatcher(d EventDispatcher) Option {
	return func(o *serviceOptions) { o.dispatch = d }
}

func WithEventLogger(l TrustEventLogger) Option {
	return func(o *serviceOptions) { o.events = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithKeyFetcher replaces the fetcher derived from the identity config.
func WithKeyFetcher(f oidckit.KeyFetcher) Option {
	return func(o *serviceOptions) { o.fetcher = f }
}

// WithHTTPClient sets the client used to fetch signing keys.
func WithHTTPClient(c *http.Client) Option {
	return func(o *serviceOptions) { o.client = c }
}

// WithClock injects the time source for both verifiers.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// NewService validates cfg and wires the verifiers. It fails with
// ErrMisconfigured rather than starting half-configured.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	o := serviceOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.validate(o.store != nil || cfg.HasSharedReplayStore()); err != nil {
		return nil, err
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	if o.events == nil {
		o.events = nopEventLogger{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	log := o.log.WithField("component", "trust.service")

	secret, err := cfg.parseSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}

	fetcher := o.fetcher
	switch {
	case fetcher != nil:
	case len(cfg.Identity.PinnedCertificates) > 0:
		fetcher = oidckit.StaticFetcher(cfg.Identity.PinnedCertificates)
	default:
		fetcher, err = oidckit.NewFetcher(cfg.Identity.KeysFormat, cfg.Identity.KeysURL, o.client)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
		}
	}

	s := &Service{
		cfg:      cfg,
		log:      log,
		users:    o.users,
		dispatch: o.dispatch,
		events:   o.events,
		metrics:  o.metrics,
	}
	s.keys = oidckit.NewKeyCache(fetcher,
		oidckit.WithFetchTimeout(cfg.Identity.FetchTimeout),
		oidckit.WithCacheLogger(o.log),
	)
	s.tokens = oidckit.NewIDTokenVerifier(cfg.Identity.Issuer, cfg.Identity.ProjectID, s.keys,
		oidckit.WithClockSkew(cfg.Identity.Skew),
		oidckit.WithClock(o.now),
		oidckit.WithLogger(o.log),
	)
	s.webhooks = webhook.NewVerifier(secret,
		webhook.WithMaxAge(cfg.Webhook.MaxAge),
		webhook.WithLegacyFallback(cfg.Webhook.LegacyFallback),
		webhook.WithClock(o.now),
		webhook.WithLogger(o.log),
	)
	s.profiles = make(map[string]*webhook.ProfileVerifier, len(cfg.Webhook.ProviderSecrets))
	for name, secret := range cfg.Webhook.ProviderSecrets {
		s.profiles[name] = webhook.NewProfileVerifier(webhook.Profiles[name], secret,
			webhook.WithMaxAge(cfg.Webhook.MaxAge),
			webhook.WithClock(o.now),
			webhook.WithLogger(o.log),
		)
	}

	store := o.store
	if store == nil {
		mem := memorystore.NewReplayStore()
		s.closers = append(s.closers, mem.Close)
		store = mem
		log.Warn("no shared replay store configured; webhook ids are only deduplicated within this process")
	}
	s.replay = webhook.NewReplayGuard(store,
		webhook.WithTTL(cfg.Replay.TTL),
		webhook.WithFailurePolicy(cfg.Replay.FailurePolicy),
		webhook.WithReplayLogger(o.log),
	)

	log.WithFields(logrus.Fields{
		"issuer":          cfg.Identity.Issuer,
		"audience":        cfg.Identity.ProjectID,
		"keys_format":     cfg.Identity.KeysFormat,
		"pinned_keys":     len(cfg.Identity.PinnedCertificates),
		"legacy_fallback": cfg.Webhook.LegacyFallback,
		"providers":       len(s.profiles),
		"replay_policy":   cfg.Replay.FailurePolicy.String(),
	}).Info("trust service configured")
	return s, nil
}

func (s *Service) Config() Config                         { return s.cfg }
func (s *Service) TokenVerifier() *oidckit.IDTokenVerifier { return s.tokens }
func (s *Service) WebhookVerifier() *webhook.Verifier     { return s.webhooks }
func (s *Service) ReplayGuard() *webhook.ReplayGuard      { return s.replay }
func (s *Service) KeyCache() *oidckit.KeyCache            { return s.keys }

// ProfileVerifier returns the receiver for a provider's native signature
// format, or false when that provider is not configured.
func (s *Service) ProfileVerifier(name string) (*webhook.ProfileVerifier, bool) {
	v, ok := s.profiles[name]
	return v, ok
}

// EnvelopeOptions returns the options adapters pass to
// webhook.EnvelopeFromRequest.
func (s *Service) EnvelopeOptions() []webhook.EnvelopeOpt {
	return []webhook.EnvelopeOpt{webhook.WithMaxBodyBytes(s.cfg.Webhook.MaxBodyBytes)}
}

// ProviderEnvelopeOptions is EnvelopeOptions for a provider profile: only the
// profile's signature header is read.
func (s *Service) ProviderEnvelopeOptions(p webhook.Profile) []webhook.EnvelopeOpt {
	return append(s.EnvelopeOptions(), webhook.WithHeaderNames(webhook.HeaderNames{Signature: []string{p.Header}}))
}

// Close releases resources the service created itself.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// AuthenticateBearer verifies the token in an Authorization header and
// resolves the local user. Verification failures wrap ErrUnauthorized; a
// resolver outage wraps ErrUnavailable.
func (s *Service) AuthenticateBearer(ctx context.Context, authorization string) (*Principal, error) {
	raw := BearerToken(authorization)
	if raw == "" {
		s.rejectToken(ctx, oidckit.KindInvalidFormat, "")
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	return s.AuthenticateToken(ctx, raw)
}

// AuthenticateToken is AuthenticateBearer for a bare token.
func (s *Service) AuthenticateToken(ctx context.Context, raw string) (*Principal, error) {
	claims, err := s.tokens.Verify(ctx, raw)
	if err != nil {
		s.rejectToken(ctx, oidckit.KindOf(err), "")
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	p := &Principal{Subject: claims.Subject, Email: claims.Email, Claims: claims}
	if s.users != nil {
		id, err := s.users.ResolveUser(ctx, claims)
		if err != nil {
			if errors.Is(err, oidckit.ErrInvalidClaims) {
				s.rejectToken(ctx, oidckit.KindInvalidClaims, claims.Subject)
				return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
			}
			s.log.WithError(err).WithField("sub", claims.Subject).Error("resolve user failed")
			return nil, fmt.Errorf("%w: resolve user: %w", ErrUnavailable, err)
		}
		p.UserID = id
	}

	s.metrics.token("")
	s.events.LogToken(ctx, TokenEvent{Accepted: true, Subject: p.Subject, UserID: userIDString(p.UserID)})
	return p, nil
}

func (s *Service) rejectToken(ctx context.Context, kind oidckit.ErrorKind, sub string) {
	s.metrics.token(string(kind))
	s.events.LogToken(ctx, TokenEvent{Kind: string(kind), Subject: sub})
}

// AcceptWebhook verifies env, claims its id with the replay guard and
// dispatches the body. A duplicate is not an error: the sender should see a
// 2xx and stop retrying. When dispatch fails the replay mark is released so
// the sender's retry is processed.
func (s *Service) AcceptWebhook(ctx context.Context, env webhook.Envelope) (WebhookOutcome, error) {
	ev := WebhookEvent{WebhookID: env.ID, BodyBytes: len(env.Body)}

	res, err := s.webhooks.Verify(env)
	if err != nil {
		kind := webhook.KindOf(err)
		s.metrics.webhook(string(kind))
		ev.Kind = string(kind)
		s.events.LogWebhook(ctx, ev)
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	s.metrics.webhook("")
	ev.Accepted = true
	ev.Strategy = res.Strategy
	return s.claimAndDispatch(ctx, ev, env.ID, env.Timestamp, res.Body)
}

// AcceptProviderWebhook is AcceptWebhook for a provider that signs in its own
// format. The replay key is derived from the body.
func (s *Service) AcceptProviderWebhook(ctx context.Context, provider, signature string, body []byte) (WebhookOutcome, error) {
	v, ok := s.profiles[provider]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	id := v.DeliveryID(body)
	ev := WebhookEvent{WebhookID: id, BodyBytes: len(body)}

	res, err := v.Verify(signature, body)
	if err != nil {
		kind := webhook.KindOf(err)
		s.metrics.webhook(string(kind))
		ev.Kind = string(kind)
		s.events.LogWebhook(ctx, ev)
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	s.metrics.webhook("")
	ev.Accepted = true
	ev.Strategy = res.Strategy
	return s.claimAndDispatch(ctx, ev, id, res.Timestamp, res.Body)
}

func (s *Service) claimAndDispatch(ctx context.Context, ev WebhookEvent, id, timestamp string, body []byte) (WebhookOutcome, error) {
	first, err := s.replay.ShouldProcess(ctx, id)
	if err != nil {
		s.metrics.replay("store_error")
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !first {
		s.metrics.replay(string(OutcomeDuplicate))
		ev.Duplicate = true
		s.events.LogWebhook(ctx, ev)
		return OutcomeDuplicate, nil
	}

	if s.dispatch != nil {
		if err := s.dispatch.Dispatch(ctx, id, timestamp, body); err != nil {
			s.log.WithError(err).WithField("webhook_id", id).Error("webhook dispatch failed; releasing replay mark")
			// Detached so a cancelled request still frees the id for the retry.
			if rerr := s.replay.Release(context.WithoutCancel(ctx), id); rerr != nil {
				err = errors.Join(err, rerr)
			}
			s.metrics.replay("dispatch_error")
			return "", fmt.Errorf("%w: dispatch: %w", ErrUnavailable, err)
		}
	}
	s.metrics.replay(string(OutcomeProcessed))
	s.events.LogWebhook(ctx, ev)
	return OutcomeProcessed, nil
}

func userIDString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
