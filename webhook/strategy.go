package webhook

import (
	"encoding/base64"
	"encoding/hex"
)

// Strategy is one way of constructing the expected signature. Compute returns
// the value expected after the "v1," prefix for the given key.
type Strategy struct {
	Name string
	// Deprecated strategies exist for senders that never implemented Standard
	// Webhooks signing. They are scheduled for removal.
	Deprecated bool
	Compute    func(key []byte, m Message) string
}

// Matches reports whether any key produces any of the provided signatures.
// Every comparison is constant-time.
func (s Strategy) Matches(keys [][]byte, m Message, provided []string) bool {
	for _, key := range keys {
		expected := s.Compute(key, m)
		for _, p := range provided {
			if equalSignature(expected, p) {
				return true
			}
		}
	}
	return false
}

// StandardV1 is base64(HMAC-SHA256(key, id.timestamp.body)).
var StandardV1 = Strategy{
	Name:    "standard-v1",
	Compute: ComputeSignature,
}

// LegacyStrategies are tried in this order, only when legacy fallback is
// enabled and StandardV1 did not match.
var LegacyStrategies = []Strategy{
	// Canonical construction, tried with the undecoded secret strings.
	{Name: "legacy-undecoded-secret", Deprecated: true, Compute: ComputeSignature},
	{Name: "legacy-id-timestamp-body-hex", Deprecated: true, Compute: func(k []byte, m Message) string {
		return hex.EncodeToString(MAC(k, m.SignedContent()))
	}},
	{Name: "legacy-timestamp-body-base64", Deprecated: true, Compute: func(k []byte, m Message) string {
		return base64.StdEncoding.EncodeToString(MAC(k, timestampBody(m)))
	}},
	{Name: "legacy-timestamp-body-hex", Deprecated: true, Compute: func(k []byte, m Message) string {
		return hex.EncodeToString(MAC(k, timestampBody(m)))
	}},
	{Name: "legacy-body-base64", Deprecated: true, Compute: func(k []byte, m Message) string {
		return base64.StdEncoding.EncodeToString(MAC(k, m.Body))
	}},
	{Name: "legacy-body-hex", Deprecated: true, Compute: func(k []byte, m Message) string {
		return hex.EncodeToString(MAC(k, m.Body))
	}},
	{Name: "legacy-body-sha256-hex", Deprecated: true, Compute: func(k []byte, m Message) string {
		return "sha256=" + hex.EncodeToString(MAC(k, m.Body))
	}},
	{Name: "legacy-timestamp-body-sha256-hex", Deprecated: true, Compute: func(k []byte, m Message) string {
		return "sha256=" + hex.EncodeToString(MAC(k, timestampBody(m)))
	}},
}

func timestampBody(m Message) []byte {
	out := make([]byte, 0, len(m.Timestamp)+1+len(m.Body))
	out = append(out, m.Timestamp...)
	out = append(out, '.')
	return append(out, m.Body...)
}
