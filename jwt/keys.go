package jwtkit

import (
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// ParseCertificateMap parses a key-metadata document: a JSON object of
// key id -> PEM certificate (or PEM public key). Every entry must contain a
// PEM block; the material itself is parsed later, at verification time.
func ParseCertificateMap(data []byte) (map[string][]byte, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse key document: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("key document has no keys")
	}
	out := make(map[string][]byte, len(raw))
	for kid, pemStr := range raw {
		if strings.TrimSpace(kid) == "" {
			return nil, fmt.Errorf("key document has an empty key id")
		}
		if blk, _ := pem.Decode([]byte(pemStr)); blk == nil {
			return nil, fmt.Errorf("key %s is not PEM encoded", kid)
		}
		out[kid] = []byte(pemStr)
	}
	return out, nil
}

// LoadCertificateMapFromEnv reads a kid -> PEM JSON map from the named
// environment variable.
// Returns (nil, nil) if the variable is not set (not an error).
// Returns (nil, error) if it is set but invalid.
//
// Example value:
//
//	{"key-123": "-----BEGIN CERTIFICATE-----\n...", "key-124": "-----BEGIN PUBLIC KEY-----\n..."}
func LoadCertificateMapFromEnv(name string) (map[string][]byte, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil, nil
	}
	certs, err := ParseCertificateMap([]byte(v))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return certs, nil
}

// LoadCertificateMapFromFile reads a kid -> PEM JSON map from disk (e.g. a
// mounted secret).
// Returns (nil, nil) if the file doesn't exist (not an error).
func LoadCertificateMapFromFile(path string) (map[string][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	certs, err := ParseCertificateMap(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return certs, nil
}
