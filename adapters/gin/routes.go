package authgin

import (
	"net/http"

	"github.com/PaulFidika/trustkit/adapters/gin/handlers"
	"github.com/PaulFidika/trustkit/adapters/ginutil"
	core "github.com/PaulFidika/trustkit/core"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the webhook receiver and the authenticated helper
// routes on r:
//
//	POST /webhooks            inbound webhook deliveries
//	POST /webhooks/:provider  deliveries signed in a provider's own format
//	GET  /me                  the caller's identity (bearer token required)
//	GET  /keys                trusted signing key ids
func RegisterRoutes(r gin.IRouter, svc *core.Service, rl ginutil.RateLimiter) {
	r.POST("/webhooks", handlers.HandleWebhookPOST(svc, rl))
	r.POST("/webhooks/:provider", handlers.HandleProviderWebhookPOST(svc, rl))
	r.GET("/keys", handlers.HandleKeysGET(svc))
	r.GET("/me", AuthRequired(svc), handleMe)
}

// handleMe must run behind AuthRequired.
func handleMe(c *gin.Context) {
	v, ok := CurrentUser(c)
	if !ok {
		ginutil.ServerErr(c, "no_principal")
		return
	}
	c.JSON(http.StatusOK, v)
}
