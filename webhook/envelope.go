package webhook

import (
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBodyBytes caps how much of a webhook body is read.
const DefaultMaxBodyBytes int64 = 1 << 20

// Envelope is an inbound delivery as received. Body holds the exact request
// bytes; it is never re-serialized.
type Envelope struct {
	ID        string
	Timestamp string
	Signature string
	Body      []byte
}

// Message returns the signed part of the envelope.
func (e Envelope) Message() Message {
	return Message{ID: e.ID, Timestamp: e.Timestamp, Body: e.Body}
}

// HeaderNames lists the headers each envelope field is read from, in order of
// preference.
type HeaderNames struct {
	ID        []string
	Timestamp []string
	Signature []string
}

// DefaultHeaderNames are the Standard Webhooks headers with the bare names some
// senders use as fallback.
var DefaultHeaderNames = HeaderNames{
	ID:        []string{"webhook-id", "id"},
	Timestamp: []string{"webhook-timestamp", "timestamp"},
	Signature: []string{"webhook-signature", "signature"},
}

type envelopeOptions struct {
	headers HeaderNames
	maxBody int64
}

// EnvelopeOpt configures EnvelopeFromRequest.
type EnvelopeOpt func(*envelopeOptions)

// WithHeaderNames overrides the header names.
func WithHeaderNames(h HeaderNames) EnvelopeOpt {
	return func(o *envelopeOptions) { o.headers = h }
}

// WithMaxBodyBytes overrides the body limit.
func WithMaxBodyBytes(n int64) EnvelopeOpt {
	return func(o *envelopeOptions) {
		if n > 0 {
			o.maxBody = n
		}
	}
}

// EnvelopeFromRequest reads the webhook headers and the exact body bytes.
// Bodies larger than the limit yield ErrBodyTooLarge.
func EnvelopeFromRequest(r *http.Request, opts ...EnvelopeOpt) (Envelope, error) {
	o := envelopeOptions{headers: DefaultHeaderNames, maxBody: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&o)
	}

	env := Envelope{
		ID:        firstHeader(r.Header, o.headers.ID),
		Timestamp: firstHeader(r.Header, o.headers.Timestamp),
		Signature: firstHeader(r.Header, o.headers.Signature),
	}
	if r.Body == nil {
		return env, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, o.maxBody+1))
	if err != nil {
		return env, fmt.Errorf("webhook: read body: %w", err)
	}
	if int64(len(body)) > o.maxBody {
		return env, ErrBodyTooLarge
	}
	env.Body = body
	return env, nil
}

func firstHeader(h http.Header, names []string) string {
	for _, n := range names {
		if v := h.Get(n); v != "" {
			return v
		}
	}
	return ""
}
