package authhttp

import (
	"net/http"
	"time"

	core "github.com/PaulFidika/trustkit/core"
)

// KeysHandler reports which signing key ids the service currently trusts.
// It fetches the key document when the cache is empty. No key material is
// returned.
func KeysHandler(svc *core.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		set, err := svc.KeyCache().Keys(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "keys_unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"kids":       set.KeyIDs(),
			"fetched_at": set.FetchedAt.UTC().Format(time.RFC3339),
		})
	})
}
