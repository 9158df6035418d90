package oidckit

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"

	jwtkit "github.com/PaulFidika/trustkit/jwt"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Key document formats.
const (
	// FormatX509 is a JSON object of key id -> PEM certificate.
	FormatX509 = "x509"
	// FormatJWKS is an RFC 7517 key set.
	FormatJWKS = "jwks"
)

const maxKeyDocumentBytes = 1 << 20

// KeyFetcher retrieves the provider's current signing keys as key id -> PEM.
type KeyFetcher interface {
	FetchKeys(ctx context.Context) (map[string][]byte, error)
}

// NewFetcher returns the fetcher for a key document format.
func NewFetcher(format, url string, client *http.Client) (KeyFetcher, error) {
	if url == "" {
		return nil, errors.New("oidc: keys url is empty")
	}
	switch format {
	case FormatX509, "":
		return &CertificateFetcher{URL: url, Client: client}, nil
	case FormatJWKS:
		return &JWKSFetcher{URL: url, Client: client}, nil
	default:
		return nil, fmt.Errorf("oidc: unknown key document format %q", format)
	}
}

// CertificateFetcher GETs an x509 key-metadata document.
type CertificateFetcher struct {
	URL    string
	Client *http.Client
}

func (f *CertificateFetcher) FetchKeys(ctx context.Context) (map[string][]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := httpClient(f.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("key document fetch failed: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyDocumentBytes))
	if err != nil {
		return nil, err
	}
	return jwtkit.ParseCertificateMap(body)
}

// JWKSFetcher fetches a JWKS document and normalises its RSA keys to PEM
// public keys.
type JWKSFetcher struct {
	URL    string
	Client *http.Client
}

func (f *JWKSFetcher) FetchKeys(ctx context.Context) (map[string][]byte, error) {
	set, err := jwk.Fetch(ctx, f.URL, jwk.WithHTTPClient(httpClient(f.Client)))
	if err != nil {
		return nil, err
	}
	return keySetToPEM(set)
}

// StaticFetcher serves a fixed key map, e.g. certificates pinned through
// configuration.
type StaticFetcher map[string][]byte

func (s StaticFetcher) FetchKeys(context.Context) (map[string][]byte, error) {
	if len(s) == 0 {
		return nil, errors.New("no static signing keys configured")
	}
	out := make(map[string][]byte, len(s))
	for kid, m := range s {
		out[kid] = m
	}
	return out, nil
}

func keySetToPEM(set jwk.Set) (map[string][]byte, error) {
	out := make(map[string][]byte, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok || key.KeyID() == "" {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("jwks key %s: %w", key.KeyID(), err)
		}
		pub, ok := raw.(*rsa.PublicKey)
		if !ok {
			continue
		}
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return nil, fmt.Errorf("jwks key %s: %w", key.KeyID(), err)
		}
		out[key.KeyID()] = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	}
	if len(out) == 0 {
		return nil, errors.New("jwks document has no RSA signing keys")
	}
	return out, nil
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
