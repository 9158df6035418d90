package authhttp

import (
	"net/http"

	core "github.com/PaulFidika/trustkit/core"
	"github.com/PaulFidika/trustkit/webhook"
)

// WebhookHandler verifies, deduplicates and dispatches inbound webhooks.
// Duplicates answer 200 so the sender stops retrying.
func WebhookHandler(svc *core.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
			return
		}
		env, err := webhook.EnvelopeFromRequest(r, svc.EnvelopeOptions()...)
		if err != nil {
			writeError(w, err)
			return
		}
		out, err := svc.AcceptWebhook(r.Context(), env)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(out)})
	})
}

// ProviderWebhookHandler receives deliveries signed in provider's native
// format (see webhook.Profiles).
func ProviderWebhookHandler(svc *core.Service, provider string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
			return
		}
		pv, ok := svc.ProfileVerifier(provider)
		if !ok {
			writeError(w, core.ErrUnknownProvider)
			return
		}
		env, err := webhook.EnvelopeFromRequest(r, svc.ProviderEnvelopeOptions(pv.Profile())...)
		if err != nil {
			writeError(w, err)
			return
		}
		out, err := svc.AcceptProviderWebhook(r.Context(), provider, env.Signature, env.Body)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(out)})
	})
}
