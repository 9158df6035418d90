package handlers

import (
	"net/http"
	"time"

	core "github.com/PaulFidika/trustkit/core"
	"github.com/gin-gonic/gin"
)

// HandleKeysGET lists the trusted signing key ids. The key document is
// fetched if the cache is empty.
func HandleKeysGET(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		set, err := svc.KeyCache().Keys(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "keys_unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"kids":       set.KeyIDs(),
			"fetched_at": set.FetchedAt.UTC().Format(time.RFC3339),
		})
	}
}
