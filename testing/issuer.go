// Package testing provides utilities for testing applications that use trustkit.
// It provides a mock identity provider that publishes signing keys and can sign
// tokens, enabling integration tests without a real identity provider.
//
// Example usage:
//
//	issuer := testing.NewTestIssuer()
//	defer issuer.Close()
//
//	// Point the key cache at the test issuer
//	cfg.Identity.KeysURL = issuer.CertsURL()
//	cfg.Identity.Issuer = issuer.Issuer()
//	cfg.Identity.ProjectID = issuer.Audience()
//
//	token := issuer.CreateToken("user-123", "test@example.com")
package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	jwtkit "github.com/PaulFidika/trustkit/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
)

// TestIssuer runs an HTTP server publishing its signing certificates at /certs
// (kid -> PEM, the x509 metadata format) and the same keys at
// /.well-known/jwks.json. Tokens it signs validate against either document.
type TestIssuer struct {
	server   *httptest.Server
	audience string
	issuer   string

	mu      sync.Mutex
	signer  *jwtkit.RSASigner
	certs   map[string]string
	jwks    jwtkit.JWKS
	serial  int
	failing bool
	fetches atomic.Int64
}

// NewTestIssuer creates a test issuer for project "test-project".
// Call Close() when done to shut down the test server.
func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithAudience("test-project")
}

// NewTestIssuerWithAudience creates a test issuer whose tokens carry the given
// project id as their audience.
func NewTestIssuerWithAudience(audience string) *TestIssuer {
	ti := &TestIssuer{
		audience: audience,
		issuer:   "https://securetoken.test/" + audience,
	}
	ti.RotateKey()

	mux := http.NewServeMux()
	mux.HandleFunc("/certs", ti.handleCerts)
	mux.HandleFunc("/.well-known/jwks.json", ti.handleJWKS)

	ti.server = httptest.NewServer(mux)
	return ti
}

// URL returns the base URL of the test issuer server.
func (ti *TestIssuer) URL() string { return ti.server.URL }

// CertsURL is the x509 key-metadata endpoint.
func (ti *TestIssuer) CertsURL() string { return ti.server.URL + "/certs" }

// JWKSURL is the JWKS endpoint.
func (ti *TestIssuer) JWKSURL() string { return ti.server.URL + "/.well-known/jwks.json" }

// Audience returns the project id tokens are issued for.
func (ti *TestIssuer) Audience() string { return ti.audience }

// Issuer returns the iss value tokens carry.
func (ti *TestIssuer) Issuer() string { return ti.issuer }

// KID returns the id of the key currently signing tokens.
func (ti *TestIssuer) KID() string {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.signer.KID()
}

// Signer returns the key currently signing tokens.
func (ti *TestIssuer) Signer() *jwtkit.RSASigner {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.signer
}

// FetchCount reports how many key documents have been served.
func (ti *TestIssuer) FetchCount() int { return int(ti.fetches.Load()) }

// SetFailing makes both key endpoints answer 503.
func (ti *TestIssuer) SetFailing(failing bool) {
	ti.mu.Lock()
	ti.failing = failing
	ti.mu.Unlock()
}

// RotateKey replaces the signing key. Only the new key is published
// afterwards. It returns the new kid.
func (ti *TestIssuer) RotateKey() string {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.serial++
	kid := fmt.Sprintf("test-key-%d", ti.serial)
	signer, err := jwtkit.NewRSASigner(2048, kid)
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	certPEM, err := signer.CertificatePEM("securetoken.test", 0)
	if err != nil {
		panic("failed to create certificate: " + err.Error())
	}
	ti.signer = signer
	ti.certs = map[string]string{kid: string(certPEM)}
	ti.jwks = jwtkit.JWKS{Keys: []jwtkit.JWK{jwtkit.RSAPublicToJWK(signer.PublicKey(), kid, signer.Algorithm())}}
	return kid
}

// Close shuts down the test server.
func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

func (ti *TestIssuer) handleCerts(w http.ResponseWriter, r *http.Request) {
	ti.fetches.Add(1)
	ti.mu.Lock()
	failing, certs := ti.failing, ti.certs
	ti.mu.Unlock()
	if failing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	jwtkit.ServeCertificates(w, r, certs)
}

func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ti.fetches.Add(1)
	ti.mu.Lock()
	failing, ks := ti.failing, ti.jwks
	ti.mu.Unlock()
	if failing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	jwtkit.ServeJWKS(w, r, ks)
}

// CreateToken creates a signed identity token for testing.
func (ti *TestIssuer) CreateToken(userID, email string) string {
	return ti.CreateTokenWithClaims(userID, email, nil)
}

// CreateTokenWithClaims creates a signed token with additional custom claims.
// The custom claims override the standard ones (sub, email, iss, aud, exp,
// iat, auth_time); a nil value removes the claim.
func (ti *TestIssuer) CreateTokenWithClaims(userID, email string, extraClaims map[string]any) string {
	claims := jwtkit.IdentityClaims(ti.issuer, ti.audience, userID, email, time.Hour)
	for k, v := range extraClaims {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}

	token, err := ti.Signer().Sign(context.Background(), claims)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}

// CreateTokenWithExpiry creates a signed token with a custom expiry time.
func (ti *TestIssuer) CreateTokenWithExpiry(userID, email string, expiry time.Time) string {
	return ti.CreateTokenWithClaims(userID, email, map[string]any{
		"exp": expiry.Unix(),
	})
}

// CreateExpiredToken creates a token that has already expired.
func (ti *TestIssuer) CreateExpiredToken(userID, email string) string {
	return ti.CreateTokenWithExpiry(userID, email, time.Now().Add(-time.Hour))
}

// CreateTokenWithHeader signs arbitrary header and claims with the current key,
// without adding or checking anything. Use it to build malformed tokens.
func (ti *TestIssuer) CreateTokenWithHeader(header map[string]any, claims jwt.MapClaims) string {
	hdr, err := json.Marshal(header)
	if err != nil {
		panic("failed to encode header: " + err.Error())
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		panic("failed to encode claims: " + err.Error())
	}
	token, err := ti.Signer().SignSegments(jwtkit.EncodeSegment(hdr), jwtkit.EncodeSegment(payload))
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}

// StandardClaims returns the claims CreateToken would sign.
func (ti *TestIssuer) StandardClaims(userID, email string) jwt.MapClaims {
	return jwtkit.IdentityClaims(ti.issuer, ti.audience, userID, email, time.Hour)
}
