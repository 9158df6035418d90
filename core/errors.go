package core

import "errors"

var (
	// ErrUnauthorized wraps every trust failure. Adapters answer it with a
	// generic 401 and never echo the wrapped detail.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable means the request may succeed later (replay store or
	// dispatch down). Adapters answer 503 so senders retry.
	ErrUnavailable = errors.New("temporarily unavailable")
	// ErrUnknownProvider means no receiver is configured for the named
	// webhook provider.
	ErrUnknownProvider = errors.New("unknown webhook provider")
	// ErrMisconfigured is fatal at startup.
	ErrMisconfigured = errors.New("trustkit: misconfigured")
)
