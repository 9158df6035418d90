package webhook

import "errors"

// ErrorKind names a webhook rejection reason for logs and metrics. It is never
// returned to the sender.
type ErrorKind string

const (
	KindMissingHeader     ErrorKind = "MissingHeader"
	KindExpired           ErrorKind = "Expired"
	KindBadFormat         ErrorKind = "BadFormat"
	KindSignatureMismatch ErrorKind = "SignatureMismatch"
	KindMalformedSecret   ErrorKind = "MalformedSecret"
	KindBodyTooLarge      ErrorKind = "BodyTooLarge"
	KindStoreUnavailable  ErrorKind = "StoreUnavailable"
)

type kindError struct {
	kind ErrorKind
	msg  string
}

func (e *kindError) Error() string { return "webhook: " + e.msg }

var (
	ErrMissingHeader     error = &kindError{KindMissingHeader, "missing webhook header"}
	ErrExpired           error = &kindError{KindExpired, "webhook timestamp outside tolerance"}
	ErrBadFormat         error = &kindError{KindBadFormat, "invalid signature format"}
	ErrSignatureMismatch error = &kindError{KindSignatureMismatch, "webhook signature mismatch"}
	ErrMalformedSecret   error = &kindError{KindMalformedSecret, "malformed webhook secret"}
	ErrBodyTooLarge      error = &kindError{KindBodyTooLarge, "webhook body too large"}
	ErrStoreUnavailable  error = &kindError{KindStoreUnavailable, "replay store unavailable"}
)

// KindOf reports the rejection kind carried by err, or "" for other errors.
func KindOf(err error) ErrorKind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return ""
}
