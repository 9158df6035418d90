package testing

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/PaulFidika/trustkit/webhook"
)

// NewWebhookRequest builds a POST to target carrying a delivery signed with
// key at the current time, using the Standard Webhooks header names.
func NewWebhookRequest(target string, key []byte, id string, body []byte) *http.Request {
	return NewWebhookRequestAt(target, key, id, body, time.Now())
}

// NewWebhookRequestAt is NewWebhookRequest with an explicit timestamp.
func NewWebhookRequestAt(target string, key []byte, id string, body []byte, at time.Time) *http.Request {
	ts := strconv.FormatInt(at.Unix(), 10)
	r := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("webhook-id", id)
	r.Header.Set("webhook-timestamp", ts)
	r.Header.Set("webhook-signature", webhook.Sign(key, id, ts, body))
	return r
}
