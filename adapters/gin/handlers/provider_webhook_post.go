package handlers

import (
	"errors"
	"net/http"

	"github.com/PaulFidika/trustkit/adapters/ginutil"
	core "github.com/PaulFidika/trustkit/core"
	"github.com/PaulFidika/trustkit/webhook"
	"github.com/gin-gonic/gin"
)

// HandleProviderWebhookPOST receives deliveries for the provider named in the
// :provider path parameter.
func HandleProviderWebhookPOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLWebhook) {
			ginutil.TooMany(c)
			return
		}
		provider := c.Param("provider")
		pv, ok := svc.ProfileVerifier(provider)
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		env, err := webhook.EnvelopeFromRequest(c.Request, svc.ProviderEnvelopeOptions(pv.Profile())...)
		if err != nil {
			if errors.Is(err, webhook.ErrBodyTooLarge) {
				ginutil.TooLarge(c)
				return
			}
			ginutil.BadRequest(c, "unreadable_body")
			return
		}
		out, err := svc.AcceptProviderWebhook(c.Request.Context(), provider, env.Signature, env.Body)
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
