package authhttp

import (
	"net/http"

	core "github.com/PaulFidika/trustkit/core"
)

// RequireBearer rejects requests without a valid identity token and attaches
// the principal to the request context.
func RequireBearer(svc *core.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := svc.AuthenticateBearer(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
