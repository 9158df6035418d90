package handlers

import (
	"errors"
	"net/http"

	"github.com/PaulFidika/trustkit/adapters/ginutil"
	core "github.com/PaulFidika/trustkit/core"
	"github.com/PaulFidika/trustkit/webhook"
	"github.com/gin-gonic/gin"
)

func HandleWebhookPOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLWebhook) {
			ginutil.TooMany(c)
			return
		}
		env, err := webhook.EnvelopeFromRequest(c.Request, svc.EnvelopeOptions()...)
		if err != nil {
			if errors.Is(err, webhook.ErrBodyTooLarge) {
				ginutil.TooLarge(c)
				return
			}
			ginutil.BadRequest(c, "unreadable_body")
			return
		}
		out, err := svc.AcceptWebhook(c.Request.Context(), env)
		switch {
		case errors.Is(err, core.ErrUnavailable):
			c.Header("Retry-After", "5")
			ginutil.Unavailable(c)
			return
		case err != nil:
			ginutil.Unauthorized(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": string(out)})
	}
}
