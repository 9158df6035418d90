package jwtkit

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrSegmentCount is returned when a compact token does not have exactly three
// dot-separated segments.
var ErrSegmentCount = errors.New("jwt: token must have exactly 3 segments")

// Segments holds the three raw, still-encoded parts of a compact JWS.
type Segments struct {
	Header    string
	Payload   string
	Signature string
}

// SigningInput returns the exact bytes the signature covers: the original
// header and payload segments joined by a dot, never re-encoded.
func (s Segments) SigningInput() string {
	return s.Header + "." + s.Payload
}

// SplitToken splits a compact token into its segments.
func SplitToken(token string) (Segments, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Segments{}, ErrSegmentCount
	}
	return Segments{Header: parts[0], Payload: parts[1], Signature: parts[2]}, nil
}

// PadSegment right-pads a base64url segment with '=' to a multiple of 4.
func PadSegment(seg string) string {
	if rem := len(seg) % 4; rem != 0 {
		return seg + strings.Repeat("=", 4-rem)
	}
	return seg
}

// DecodeSegment pads and decodes a base64url segment. Decoding is strict:
// unused bits in the final character must be zero, so each segment has
// exactly one accepted encoding.
func DecodeSegment(seg string) ([]byte, error) {
	return base64.URLEncoding.Strict().DecodeString(PadSegment(seg))
}

// EncodeSegment encodes bytes as unpadded base64url.
func EncodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
