package oidckit_test

import (
	"context"
	"strings"
	"testing"
	"time"

	jwtkit "github.com/PaulFidika/trustkit/jwt"
	oidckit "github.com/PaulFidika/trustkit/oidc"
	authtest "github.com/PaulFidika/trustkit/testing"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifier(t *testing.T, ti *authtest.TestIssuer, opts ...oidckit.VerifierOpt) *oidckit.IDTokenVerifier {
	t.Helper()
	quiet, _ := logtest.NewNullLogger()
	cache := oidckit.NewKeyCache(&oidckit.CertificateFetcher{URL: ti.CertsURL()}, oidckit.WithCacheLogger(quiet))
	opts = append([]oidckit.VerifierOpt{oidckit.WithLogger(quiet)}, opts...)
	return oidckit.NewIDTokenVerifier(ti.Issuer(), ti.Audience(), cache, opts...)
}

func TestVerify_ValidToken(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)

	tok := ti.CreateTokenWithClaims("user123", "a@b.com", map[string]any{"email_verified": true, "plan": "pro"})
	claims, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)

	assert.Equal(t, "user123", claims.Subject)
	assert.Equal(t, "a@b.com", claims.Email)
	assert.Equal(t, ti.Audience(), claims.Audience)
	assert.Equal(t, ti.Issuer(), claims.Issuer)
	require.NotNil(t, claims.EmailVerified)
	assert.True(t, *claims.EmailVerified)
	assert.False(t, claims.AuthTime.IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 5*time.Second)

	plan, ok := claims.Get("plan")
	require.True(t, ok)
	assert.Equal(t, "pro", plan)

	raw := claims.Raw()
	assert.Contains(t, raw, "auth_time")
	raw["sub"] = "mutated"
	assert.Equal(t, "user123", claims.Subject)
	again, _ := claims.Get("sub")
	assert.Equal(t, "user123", again)
}

func TestVerify_UsesCachedKeys(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)

	for i := 0; i < 3; i++ {
		_, err := v.Verify(context.Background(), ti.CreateToken("u", "u@example.com"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, ti.FetchCount())
}

func TestVerify_UnknownKeyRefetchesOnce(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)

	_, err := v.Verify(context.Background(), ti.CreateToken("u", "u@example.com"))
	require.NoError(t, err)
	require.Equal(t, 1, ti.FetchCount())

	tok := ti.CreateTokenWithHeader(map[string]any{"alg": "RS256", "kid": "zzz"}, ti.StandardClaims("u", "u@example.com"))
	_, err = v.Verify(context.Background(), tok)
	assert.ErrorIs(t, err, oidckit.ErrUnknownKey)
	assert.Equal(t, oidckit.KindUnknownKey, oidckit.KindOf(err))
	assert.Equal(t, 2, ti.FetchCount())
}

func TestVerify_PicksUpRotatedKey(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)

	old := ti.CreateToken("u", "u@example.com")
	_, err := v.Verify(context.Background(), old)
	require.NoError(t, err)

	ti.RotateKey()
	fresh := ti.CreateToken("u", "u@example.com")
	_, err = v.Verify(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, 2, ti.FetchCount())

	_, err = v.Verify(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, 2, ti.FetchCount())

	// The retired key is no longer published.
	_, err = v.Verify(context.Background(), old)
	assert.ErrorIs(t, err, oidckit.ErrUnknownKey)
}

func TestVerify_JWKSKeyDocument(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	quiet, _ := logtest.NewNullLogger()
	cache := oidckit.NewKeyCache(&oidckit.JWKSFetcher{URL: ti.JWKSURL()}, oidckit.WithCacheLogger(quiet))
	v := oidckit.NewIDTokenVerifier(ti.Issuer(), ti.Audience(), cache, oidckit.WithLogger(quiet))

	claims, err := v.Verify(context.Background(), ti.CreateToken("u", "u@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "u", claims.Subject)
}

func TestVerify_StructuralRejections(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)
	claims := ti.StandardClaims("u", "u@example.com")
	payload := jwtkit.EncodeSegment([]byte(`{"sub":"u"}`))

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", oidckit.ErrInvalidFormat},
		{"two parts", "a.b", oidckit.ErrInvalidFormat},
		{"four parts", "a.b.c.d", oidckit.ErrInvalidFormat},
		{"header not base64url", "***." + payload + ".sig", oidckit.ErrInvalidHeader},
		{"header not json", jwtkit.EncodeSegment([]byte("nope")) + "." + payload + ".sig", oidckit.ErrInvalidHeader},
		{"header json array", jwtkit.EncodeSegment([]byte("[1]")) + "." + payload + ".sig", oidckit.ErrInvalidHeader},
		{"hs256", ti.CreateTokenWithHeader(map[string]any{"alg": "HS256", "kid": ti.KID()}, claims), oidckit.ErrUnsupportedAlgorithm},
		{"none", ti.CreateTokenWithHeader(map[string]any{"alg": "none", "kid": ti.KID()}, claims), oidckit.ErrUnsupportedAlgorithm},
		{"lowercase alg", ti.CreateTokenWithHeader(map[string]any{"alg": "rs256", "kid": ti.KID()}, claims), oidckit.ErrUnsupportedAlgorithm},
		{"no kid", ti.CreateTokenWithHeader(map[string]any{"alg": "RS256"}, claims), oidckit.ErrMissingKeyID},
		{"empty kid", ti.CreateTokenWithHeader(map[string]any{"alg": "RS256", "kid": ""}, claims), oidckit.ErrMissingKeyID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tc.token)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	// None of these needed keys.
	assert.Equal(t, 0, ti.FetchCount())
}

func TestVerify_SignatureRejections(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)

	tok := ti.CreateToken("u", "u@example.com")
	seg, err := jwtkit.SplitToken(tok)
	require.NoError(t, err)

	t.Run("payload swapped", func(t *testing.T) {
		forged := ti.StandardClaims("admin", "u@example.com")
		body, err := jwt.NewWithClaims(jwt.SigningMethodRS256, forged).SigningString()
		require.NoError(t, err)
		parts := strings.Split(body, ".")
		_, err = v.Verify(context.Background(), seg.Header+"."+parts[1]+"."+seg.Signature)
		assert.ErrorIs(t, err, oidckit.ErrSignatureInvalid)
	})

	t.Run("signature not base64url", func(t *testing.T) {
		_, err := v.Verify(context.Background(), seg.Header+"."+seg.Payload+".***")
		assert.ErrorIs(t, err, oidckit.ErrSignatureInvalid)
	})

	t.Run("signed by another key with the same kid", func(t *testing.T) {
		other, err := jwtkit.NewRSASigner(2048, ti.KID())
		require.NoError(t, err)
		forged, err := other.Sign(context.Background(), ti.StandardClaims("u", "u@example.com"))
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), forged)
		assert.ErrorIs(t, err, oidckit.ErrSignatureInvalid)
	})
}

func TestVerify_EverySignatureBitFlipRejected(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)

	tok := ti.CreateToken("u", "u@example.com")
	seg, err := jwtkit.SplitToken(tok)
	require.NoError(t, err)
	prefix := seg.SigningInput() + "."

	for i := 0; i < len(seg.Signature); i++ {
		for bit := 0; bit < 8; bit++ {
			sig := []byte(seg.Signature)
			sig[i] ^= 1 << bit
			_, err := v.Verify(context.Background(), prefix+string(sig))
			if sig[i] == '.' {
				// Splits the token into four segments.
				assert.ErrorIs(t, err, oidckit.ErrInvalidFormat)
				continue
			}
			assert.ErrorIs(t, err, oidckit.ErrSignatureInvalid, "char %d bit %d (%q)", i, bit, sig[i])
		}
	}

	_, err = v.Verify(context.Background(), tok)
	assert.NoError(t, err)
}

func TestVerify_ClaimRejections(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)
	now := time.Now()

	cases := []struct {
		name  string
		extra map[string]any
		want  error
	}{
		{"other audience", map[string]any{"aud": "other-project"}, oidckit.ErrAudienceMismatch},
		{"audience prefix", map[string]any{"aud": ti.Audience() + "x"}, oidckit.ErrAudienceMismatch},
		{"audience list", map[string]any{"aud": []string{ti.Audience()}}, oidckit.ErrAudienceMismatch},
		{"no audience", map[string]any{"aud": nil}, oidckit.ErrAudienceMismatch},
		{"other issuer", map[string]any{"iss": "https://evil.example/" + ti.Audience()}, oidckit.ErrIssuerMismatch},
		{"issuer trailing slash", map[string]any{"iss": ti.Issuer() + "/"}, oidckit.ErrIssuerMismatch},
		{"expired", map[string]any{"exp": now.Add(-time.Minute).Unix()}, oidckit.ErrExpired},
		{"no exp", map[string]any{"exp": nil}, oidckit.ErrExpired},
		{"exp not a number", map[string]any{"exp": "tomorrow"}, oidckit.ErrInvalidClaims},
		{"issued in future", map[string]any{"iat": now.Add(2 * time.Minute).Unix()}, oidckit.ErrIssuedInFuture},
		{"no auth_time", map[string]any{"auth_time": nil}, oidckit.ErrMissingClaim},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), ti.CreateTokenWithClaims("u", "u@example.com", tc.extra))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestVerify_ClaimChecksRunInOrder(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)

	// Wrong audience and expired: audience is reported.
	tok := ti.CreateTokenWithClaims("u", "u@example.com", map[string]any{
		"aud": "other",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err := v.Verify(context.Background(), tok)
	assert.ErrorIs(t, err, oidckit.ErrAudienceMismatch)
}

func TestVerify_ClockSkewAllowance(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	now := time.Unix(1_700_000_000, 0)
	v := newVerifier(t, ti, oidckit.WithClock(func() time.Time { return now }))

	base := map[string]any{"exp": now.Add(time.Hour).Unix(), "auth_time": now.Unix()}
	withIAT := func(iat time.Time) string {
		extra := map[string]any{"iat": iat.Unix()}
		for k, val := range base {
			extra[k] = val
		}
		return ti.CreateTokenWithClaims("u", "u@example.com", extra)
	}

	_, err := v.Verify(context.Background(), withIAT(now.Add(60*time.Second)))
	assert.NoError(t, err)
	_, err = v.Verify(context.Background(), withIAT(now.Add(61*time.Second)))
	assert.ErrorIs(t, err, oidckit.ErrIssuedInFuture)
}

func TestVerify_ExpiryLogging(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	v := newVerifier(t, ti, oidckit.WithLogger(logger))

	_, err := v.Verify(context.Background(), ti.CreateTokenWithExpiry("u", "u@example.com", time.Now().Add(-10*time.Second)))
	require.ErrorIs(t, err, oidckit.ErrExpired)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "token just expired", entry.Message)
	assert.Equal(t, logrus.DebugLevel, entry.Level)

	_, err = v.Verify(context.Background(), ti.CreateTokenWithExpiry("u", "u@example.com", time.Now().Add(-time.Hour)))
	require.ErrorIs(t, err, oidckit.ErrExpired)
	entry = hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "token long expired", entry.Message)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
}

func TestVerify_KeysUnavailable(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)
	ti.SetFailing(true)

	_, err := v.Verify(context.Background(), ti.CreateToken("u", "u@example.com"))
	assert.ErrorIs(t, err, oidckit.ErrKeysUnavailable)
	assert.Equal(t, oidckit.KindKeysUnavailable, oidckit.KindOf(err))
	// A failed fetch is not retried within the same verification.
	assert.Equal(t, 1, ti.FetchCount())

	ti.SetFailing(false)
	_, err = v.Verify(context.Background(), ti.CreateToken("u", "u@example.com"))
	assert.NoError(t, err)
}

func TestVerify_StaticKeys(t *testing.T) {
	signer, err := jwtkit.NewRSASigner(2048, "pinned")
	require.NoError(t, err)
	certPEM, err := signer.CertificatePEM("pinned", 0)
	require.NoError(t, err)

	cache := oidckit.NewKeyCache(oidckit.StaticFetcher{"pinned": certPEM})
	v := oidckit.NewIDTokenVerifier("https://iss.example/p", "p", cache)

	tok, err := signer.Sign(context.Background(), jwtkit.IdentityClaims("https://iss.example/p", "p", "sub-1", "", time.Minute))
	require.NoError(t, err)
	claims, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", claims.Subject)
}

func TestVerify_NilVerifier(t *testing.T) {
	_, err := oidckit.VerifyIDToken(context.Background(), "a.b.c", nil)
	assert.Error(t, err)
	assert.Equal(t, oidckit.ErrorKind(""), oidckit.KindOf(err))
}
