package authgin

import (
	"errors"

	"github.com/PaulFidika/trustkit/adapters/ginutil"
	authhttp "github.com/PaulFidika/trustkit/adapters/http"
	core "github.com/PaulFidika/trustkit/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const principalKey = "auth.principal"

// AuthRequired aborts with 401 unless the request carries a valid identity
// token. The principal is stored on the gin context and on the request
// context.
func AuthRequired(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.AuthenticateBearer(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			if errors.Is(err, core.ErrUnavailable) {
				ginutil.Unavailable(c)
				return
			}
			ginutil.Unauthorized(c)
			return
		}
		setPrincipal(c, p)
		c.Next()
	}
}

// AuthOptional attaches the principal when a valid token is present and
// otherwise lets the request through anonymous.
func AuthOptional(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if core.BearerToken(c.GetHeader("Authorization")) != "" {
			if p, err := svc.AuthenticateBearer(c.Request.Context(), c.GetHeader("Authorization")); err == nil {
				setPrincipal(c, p)
			}
		}
		c.Next()
	}
}

func setPrincipal(c *gin.Context, p *core.Principal) {
	c.Set(principalKey, p)
	c.Set("auth.sub", p.Subject)
	if p.UserID != uuid.Nil {
		c.Set("auth.user_id", p.UserID.String())
	}
	c.Request = c.Request.WithContext(authhttp.WithPrincipal(c.Request.Context(), p))
}

// PrincipalFromGin returns the principal set by AuthRequired or AuthOptional.
func PrincipalFromGin(c *gin.Context) (*core.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*core.Principal)
	return p, ok && p != nil
}
