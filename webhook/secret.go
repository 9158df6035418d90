package webhook

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// SecretPrefix marks a Standard Webhooks secret whose remainder is the
// base64-encoded HMAC key.
const SecretPrefix = "whsec_"

// Secret is the shared webhook secret with its derived HMAC key.
type Secret struct {
	key        []byte
	configured string
	raw        bool
}

// ParseSecret derives the HMAC key from a configured secret: the base64 body
// after "whsec_", or the whole string as base64 when unprefixed. Anything that
// does not decode is ErrMalformedSecret.
func ParseSecret(s string) (Secret, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Secret{}, fmt.Errorf("%w: empty", ErrMalformedSecret)
	}
	encoded := strings.TrimPrefix(s, SecretPrefix)
	key, err := decodeBase64(encoded)
	if err != nil {
		return Secret{}, fmt.Errorf("%w: not base64", ErrMalformedSecret)
	}
	if len(key) == 0 {
		return Secret{}, fmt.Errorf("%w: empty key", ErrMalformedSecret)
	}
	return Secret{key: key, configured: s}, nil
}

// ParseSecretAllowRaw behaves like ParseSecret but falls back to the secret's
// UTF-8 bytes as the key when it does not decode. Deployments that were
// configured with a non-base64 secret depend on this.
func ParseSecretAllowRaw(s string) (Secret, error) {
	sec, err := ParseSecret(s)
	if err == nil {
		return sec, nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return Secret{}, err
	}
	return Secret{key: []byte(s), configured: s, raw: true}, nil
}

// NewSecret wraps raw key bytes. The key is encoded as a whsec_ secret for the
// legacy strategies that work from the configured string.
func NewSecret(key []byte) Secret {
	k := append([]byte(nil), key...)
	return Secret{key: k, configured: SecretPrefix + base64.StdEncoding.EncodeToString(k)}
}

// Key returns a copy of the derived HMAC key.
func (s Secret) Key() []byte { return append([]byte(nil), s.key...) }

// IsRaw reports whether the key is the secret's raw bytes rather than a
// decoded value.
func (s Secret) IsRaw() bool { return s.raw }

// IsZero reports whether no secret was configured.
func (s Secret) IsZero() bool { return len(s.key) == 0 }

// String never reveals the secret.
func (s Secret) String() string {
	if s.IsZero() {
		return "<unset>"
	}
	return SecretPrefix + "***"
}

// legacyKeys are the keys the deprecated strategies try in order: the derived
// key, the configured string as-is, and the configured string without its
// prefix.
func (s Secret) legacyKeys() [][]byte {
	candidates := [][]byte{s.key, []byte(s.configured)}
	if strings.HasPrefix(s.configured, SecretPrefix) {
		candidates = append(candidates, []byte(strings.TrimPrefix(s.configured, SecretPrefix)))
	}
	out := make([][]byte, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, k := range candidates {
		if len(k) == 0 {
			continue
		}
		if _, ok := seen[string(k)]; ok {
			continue
		}
		seen[string(k)] = struct{}{}
		out = append(out, k)
	}
	return out
}

// decodeBase64 requires standard padding, so short plain-text secrets do not
// decode by accident.
func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
