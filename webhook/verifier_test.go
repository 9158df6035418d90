package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"github.com/PaulFidika/trustkit/webhook"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey    = []byte("super-secret-signing-key")
	testSecret = "whsec_" + base64.StdEncoding.EncodeToString(testKey)
	fixedNow   = time.Unix(1_700_000_000, 0)
)

func newVerifier(t *testing.T, opts ...webhook.VerifierOpt) *webhook.Verifier {
	t.Helper()
	sec, err := webhook.ParseSecret(testSecret)
	require.NoError(t, err)
	quiet, _ := logtest.NewNullLogger()
	opts = append([]webhook.VerifierOpt{
		webhook.WithClock(func() time.Time { return fixedNow }),
		webhook.WithLogger(quiet),
	}, opts...)
	return webhook.NewVerifier(sec, opts...)
}

func envelopeAt(ts time.Time, id string, body []byte) webhook.Envelope {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	return webhook.Envelope{ID: id, Timestamp: stamp, Signature: webhook.Sign(testKey, id, stamp, body), Body: body}
}

func TestVerify_StandardSignature(t *testing.T) {
	v := newVerifier(t)
	body := []byte(`{"type":"x"}`)
	ts := strconv.FormatInt(fixedNow.Unix(), 10)

	mac := hmac.New(sha256.New, testKey)
	mac.Write([]byte("msg_1." + ts + "."))
	mac.Write(body)
	sig := "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))

	res, err := v.Verify(webhook.Envelope{ID: "msg_1", Timestamp: ts, Signature: sig, Body: body})
	require.NoError(t, err)
	assert.Equal(t, body, res.Body)
	assert.Equal(t, "standard-v1", res.Strategy)
	assert.False(t, res.Deprecated)
	assert.Equal(t, sig, webhook.Sign(testKey, "msg_1", ts, body))
}

func TestVerify_AnyByteChangeRejected(t *testing.T) {
	v := newVerifier(t)
	env := envelopeAt(fixedNow, "msg_1", []byte(`{"amount":100}`))

	tampered := env
	tampered.Body = []byte(`{"amount":900}`)
	_, err := v.Verify(tampered)
	assert.ErrorIs(t, err, webhook.ErrSignatureMismatch)

	otherID := env
	otherID.ID = "msg_2"
	_, err = v.Verify(otherID)
	assert.ErrorIs(t, err, webhook.ErrSignatureMismatch)

	flipped := env
	sig := []byte(env.Signature)
	sig[len(sig)-2] ^= 0x01
	flipped.Signature = string(sig)
	_, err = v.Verify(flipped)
	assert.ErrorIs(t, err, webhook.ErrSignatureMismatch)
}

func TestVerify_BodyReturnedOnFailure(t *testing.T) {
	v := newVerifier(t)
	env := envelopeAt(fixedNow, "msg_1", []byte(`raw`))
	env.Signature = "v1,AAAA"
	res, err := v.Verify(env)
	require.Error(t, err)
	assert.Equal(t, []byte(`raw`), res.Body)
}

func TestVerify_Freshness(t *testing.T) {
	v := newVerifier(t)
	tests := []struct {
		offset time.Duration
		ok     bool
	}{
		{0, true},
		{-299 * time.Second, true},
		{-300 * time.Second, true},
		{-301 * time.Second, false},
		{299 * time.Second, true},
		{301 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.offset.String(), func(t *testing.T) {
			_, err := v.Verify(envelopeAt(fixedNow.Add(tt.offset), "msg_1", []byte(`{}`)))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, webhook.ErrExpired)
			}
		})
	}
}

func TestVerify_CustomMaxAge(t *testing.T) {
	v := newVerifier(t, webhook.WithMaxAge(time.Minute))
	_, err := v.Verify(envelopeAt(fixedNow.Add(-61*time.Second), "msg_1", nil))
	assert.ErrorIs(t, err, webhook.ErrExpired)
}

func TestVerify_HeaderErrors(t *testing.T) {
	v := newVerifier(t)
	good := envelopeAt(fixedNow, "msg_1", []byte(`{}`))

	tests := []struct {
		name   string
		mutate func(*webhook.Envelope)
		want   error
	}{
		{"no signature", func(e *webhook.Envelope) { e.Signature = "" }, webhook.ErrMissingHeader},
		{"no timestamp", func(e *webhook.Envelope) { e.Timestamp = "" }, webhook.ErrMissingHeader},
		{"no id", func(e *webhook.Envelope) { e.ID = "" }, webhook.ErrMissingHeader},
		{"non numeric timestamp", func(e *webhook.Envelope) { e.Timestamp = "yesterday" }, webhook.ErrExpired},
		{"no v1 prefix", func(e *webhook.Envelope) { e.Signature = e.Signature[3:] }, webhook.ErrBadFormat},
		{"other version only", func(e *webhook.Envelope) { e.Signature = "v2,abc" }, webhook.ErrBadFormat},
		{"other version first", func(e *webhook.Envelope) { e.Signature = "v2,abc " + e.Signature }, webhook.ErrBadFormat},
		{"leading space", func(e *webhook.Envelope) { e.Signature = " " + e.Signature }, webhook.ErrBadFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := good
			tt.mutate(&env)
			_, err := v.Verify(env)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, webhook.KindOf(tt.want), webhook.KindOf(err))
		})
	}
}

func TestVerify_MultipleSignatures(t *testing.T) {
	v := newVerifier(t)
	env := envelopeAt(fixedNow, "msg_1", []byte(`{}`))
	env.Signature = "v1,b2xkLXNpZ25hdHVyZQ== v2,ignored " + env.Signature

	res, err := v.Verify(env)
	require.NoError(t, err)
	assert.Equal(t, "standard-v1", res.Strategy)
}

func TestVerify_ZeroSecret(t *testing.T) {
	quiet, _ := logtest.NewNullLogger()
	v := webhook.NewVerifier(webhook.Secret{}, webhook.WithLogger(quiet), webhook.WithClock(func() time.Time { return fixedNow }))
	_, err := v.Verify(envelopeAt(fixedNow, "msg_1", nil))
	assert.ErrorIs(t, err, webhook.ErrMalformedSecret)
}

func TestVerify_LegacyDisabledByDefault(t *testing.T) {
	v := newVerifier(t)
	assert.False(t, v.LegacyEnabled())

	env := envelopeAt(fixedNow, "msg_1", []byte(`{}`))
	env.Signature = "v1," + webhook.LegacyStrategies[4].Compute(testKey, env.Message())
	_, err := v.Verify(env)
	assert.ErrorIs(t, err, webhook.ErrSignatureMismatch)
}

func TestVerify_LegacyStrategies(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	v := newVerifier(t, webhook.WithLegacyFallback(true), webhook.WithLogger(log))
	require.True(t, v.LegacyEnabled())

	for _, s := range webhook.LegacyStrategies {
		t.Run(s.Name, func(t *testing.T) {
			hook.Reset()
			env := envelopeAt(fixedNow, "msg_legacy", []byte(`{"type":"x"}`))
			key := testKey
			if s.Name == "legacy-undecoded-secret" {
				key = []byte(testSecret)
			}
			env.Signature = "v1," + s.Compute(key, env.Message())

			res, err := v.Verify(env)
			require.NoError(t, err)
			assert.Equal(t, s.Name, res.Strategy)
			assert.True(t, res.Deprecated)

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, "msg_legacy", entry.Data["webhook_id"])
			assert.Equal(t, s.Name, entry.Data["strategy"])
		})
	}
}

func TestVerify_LegacyStillChecksFreshness(t *testing.T) {
	v := newVerifier(t, webhook.WithLegacyFallback(true))
	env := envelopeAt(fixedNow.Add(-time.Hour), "msg_1", []byte(`{}`))
	_, err := v.Verify(env)
	assert.ErrorIs(t, err, webhook.ErrExpired)
}

func TestVerify_RawSecret(t *testing.T) {
	sec, err := webhook.ParseSecretAllowRaw("plain text secret")
	require.NoError(t, err)
	require.True(t, sec.IsRaw())

	log, hook := logtest.NewNullLogger()
	v := webhook.NewVerifier(sec, webhook.WithLogger(log), webhook.WithClock(func() time.Time { return fixedNow }))
	require.NotNil(t, hook.LastEntry())

	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	env := webhook.Envelope{ID: "msg_1", Timestamp: ts, Body: []byte(`{}`),
		Signature: webhook.Sign([]byte("plain text secret"), "msg_1", ts, []byte(`{}`))}
	_, err = v.Verify(env)
	assert.NoError(t, err)
}
