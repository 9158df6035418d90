package authgin

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UserView is a JSON-friendly snapshot of the caller.
type UserView struct {
	UserID        string `json:"user_id,omitempty"` // empty without a user resolver
	Subject       string `json:"sub,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`

	Source string `json:"source"` // "claims" | "none"
}

// CurrentUser returns the caller's view, or Source "none" when the request is
// unauthenticated.
func CurrentUser(c *gin.Context) (UserView, bool) {
	p, ok := PrincipalFromGin(c)
	if !ok || p.Subject == "" {
		return UserView{Source: "none"}, false
	}
	v := UserView{
		Subject: p.Subject,
		Email:   p.Email,
		Source:  "claims",
	}
	if p.UserID != uuid.Nil {
		v.UserID = p.UserID.String()
	}
	if p.Claims != nil {
		v.EmailVerified = p.Claims.EmailVerified
		v.Name = p.Claims.Name
	}
	return v, true
}
