package oidckit

import "errors"

// ErrorKind names a token rejection reason. Kinds are for server-side logs and
// metrics only; callers must never echo them back to the client.
type ErrorKind string

const (
	KindInvalidFormat        ErrorKind = "InvalidFormat"
	KindInvalidHeader        ErrorKind = "InvalidHeader"
	KindUnsupportedAlgorithm ErrorKind = "UnsupportedAlgorithm"
	KindMissingKeyID         ErrorKind = "MissingKeyId"
	KindUnknownKey           ErrorKind = "UnknownKey"
	KindKeysUnavailable      ErrorKind = "KeysUnavailable"
	KindInvalidKey           ErrorKind = "InvalidKey"
	KindSignatureInvalid     ErrorKind = "SignatureInvalid"
	KindInvalidClaims        ErrorKind = "InvalidClaims"
	KindAudienceMismatch     ErrorKind = "AudienceMismatch"
	KindIssuerMismatch       ErrorKind = "IssuerMismatch"
	KindExpired              ErrorKind = "Expired"
	KindIssuedInFuture       ErrorKind = "IssuedInFuture"
	KindMissingClaim         ErrorKind = "MissingClaim"
)

type kindError struct {
	kind ErrorKind
	msg  string
}

func (e *kindError) Error() string { return "oidc: " + e.msg }

var (
	ErrInvalidFormat        error = &kindError{KindInvalidFormat, "invalid token format"}
	ErrInvalidHeader        error = &kindError{KindInvalidHeader, "invalid token header"}
	ErrUnsupportedAlgorithm error = &kindError{KindUnsupportedAlgorithm, "unsupported token algorithm"}
	ErrMissingKeyID         error = &kindError{KindMissingKeyID, "token missing key id"}
	ErrUnknownKey           error = &kindError{KindUnknownKey, "unknown signing key"}
	ErrKeysUnavailable      error = &kindError{KindKeysUnavailable, "signing keys unavailable"}
	ErrInvalidKey           error = &kindError{KindInvalidKey, "signing key material invalid"}
	ErrSignatureInvalid     error = &kindError{KindSignatureInvalid, "invalid token signature"}
	ErrInvalidClaims        error = &kindError{KindInvalidClaims, "invalid token claims"}
	ErrAudienceMismatch     error = &kindError{KindAudienceMismatch, "token audience mismatch"}
	ErrIssuerMismatch       error = &kindError{KindIssuerMismatch, "token issuer mismatch"}
	ErrExpired              error = &kindError{KindExpired, "token expired"}
	ErrIssuedInFuture       error = &kindError{KindIssuedInFuture, "token issued in the future"}
	ErrMissingClaim         error = &kindError{KindMissingClaim, "token missing required claim"}
)

// KindOf reports the rejection kind carried by err, or "" when err is not a
// token verification error.
func KindOf(err error) ErrorKind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return ""
}
