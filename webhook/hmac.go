package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureVersion is the only signature scheme accepted in the signature
// header.
const SignatureVersion = "v1"

const versionPrefix = SignatureVersion + ","

// Message is the signed part of a webhook delivery.
type Message struct {
	ID        string
	Timestamp string
	Body      []byte
}

// SignedContent is the byte concatenation id "." timestamp "." body. The body
// is used exactly as received.
func (m Message) SignedContent() []byte {
	out := make([]byte, 0, len(m.ID)+len(m.Timestamp)+len(m.Body)+2)
	out = append(out, m.ID...)
	out = append(out, '.')
	out = append(out, m.Timestamp...)
	out = append(out, '.')
	return append(out, m.Body...)
}

// MAC computes HMAC-SHA256(key, data).
func MAC(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// ComputeSignature returns base64(HMAC-SHA256(key, id.timestamp.body)).
func ComputeSignature(key []byte, m Message) string {
	return base64.StdEncoding.EncodeToString(MAC(key, m.SignedContent()))
}

// Sign returns a signature header value for the message.
func Sign(key []byte, id, timestamp string, body []byte) string {
	return versionPrefix + ComputeSignature(key, Message{ID: id, Timestamp: timestamp, Body: body})
}

// equalSignature compares in constant time.
func equalSignature(expected, provided string) bool {
	if expected == "" || provided == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(provided))
}

// parseSignatureHeader returns the v1 signatures in a header. The header must
// begin with a v1 entry; further space-separated entries may follow, and
// those of other versions are skipped.
func parseSignatureHeader(header string) (sigs []string, ok bool) {
	if !strings.HasPrefix(header, versionPrefix) {
		return nil, false
	}
	for _, entry := range strings.Fields(header) {
		if !strings.HasPrefix(entry, versionPrefix) {
			continue
		}
		sigs = append(sigs, strings.TrimPrefix(entry, versionPrefix))
	}
	return sigs, true
}
