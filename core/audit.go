package core

import (
	"context"

	"github.com/sirupsen/logrus"
)

// TokenEvent describes one bearer token verification.
type TokenEvent struct {
	Accepted bool
	Kind     string // rejection kind, empty when accepted
	Subject  string
	UserID   string
}

// WebhookEvent describes one webhook delivery decision.
type WebhookEvent struct {
	WebhookID string
	Accepted  bool
	Kind      string
	Strategy  string
	Duplicate bool
	BodyBytes int
}

// TrustEventLogger records trust decisions to an external sink.
// Implementations should be non-blocking and best-effort.
type TrustEventLogger interface {
	LogToken(ctx context.Context, ev TokenEvent)
	LogWebhook(ctx context.Context, ev WebhookEvent)
}

// LogrusEventLogger writes trust events as structured log lines. Rejections
// are logged at Warn with their kind.
type LogrusEventLogger struct {
	log logrus.FieldLogger
}

func NewLogrusEventLogger(log logrus.FieldLogger) *LogrusEventLogger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogrusEventLogger{log: log.WithField("component", "trust.audit")}
}

func (l *LogrusEventLogger) LogToken(_ context.Context, ev TokenEvent) {
	entry := l.log.WithField("sub", ev.Subject)
	if ev.Accepted {
		entry.WithField("user_id", ev.UserID).Debug("bearer token accepted")
		return
	}
	entry.WithField("kind", ev.Kind).Warn("bearer token rejected")
}

func (l *LogrusEventLogger) LogWebhook(_ context.Context, ev WebhookEvent) {
	entry := l.log.WithFields(logrus.Fields{
		"webhook_id": ev.WebhookID,
		"body_bytes": ev.BodyBytes,
	})
	switch {
	case !ev.Accepted:
		entry.WithField("kind", ev.Kind).Warn("webhook rejected")
	case ev.Duplicate:
		entry.Info("webhook duplicate acknowledged")
	default:
		entry.WithField("strategy", ev.Strategy).Info("webhook accepted")
	}
}

type nopEventLogger struct{}

func (nopEventLogger) LogToken(context.Context, TokenEvent)     {}
func (nopEventLogger) LogWebhook(context.Context, WebhookEvent) {}
