package ginutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubLimiter struct {
	ok  bool
	err error
	key string
}

func (s *stubLimiter) AllowNamed(_ context.Context, _, key string) (bool, error) {
	s.key = key
	return s.ok, s.err
}

func testContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	c.Request = req
	return c, w
}

func TestAllowNamed(t *testing.T) {
	c, _ := testContext()
	assert.True(t, AllowNamed(c, nil, RLWebhook))

	rl := &stubLimiter{ok: false}
	assert.False(t, AllowNamed(c, rl, RLWebhook))
	assert.Equal(t, "203.0.113.9", rl.key)

	assert.True(t, AllowNamed(c, &stubLimiter{err: errors.New("redis down")}, RLWebhook))
}

func TestResponses(t *testing.T) {
	for _, tt := range []struct {
		fn   func(*gin.Context)
		code int
		body string
	}{
		{Unauthorized, http.StatusUnauthorized, `{"error":"unauthorized"}`},
		{Unavailable, http.StatusServiceUnavailable, `{"error":"unavailable"}`},
		{TooMany, http.StatusTooManyRequests, `{"error":"rate_limited"}`},
		{TooLarge, http.StatusRequestEntityTooLarge, `{"error":"body_too_large"}`},
		{func(c *gin.Context) { BadRequest(c, "unreadable_body") }, http.StatusBadRequest, `{"error":"unreadable_body"}`},
		{func(c *gin.Context) { ServerErr(c, "no_principal") }, http.StatusInternalServerError, `{"error":"no_principal"}`},
	} {
		c, w := testContext()
		tt.fn(c)
		assert.Equal(t, tt.code, w.Code)
		assert.JSONEq(t, tt.body, w.Body.String())
		assert.True(t, c.IsAborted())
	}
}
