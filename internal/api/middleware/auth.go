package middleware

import (
	"net/http"
	"strings"

	"github.com/kiranshivaraju/podpilot/internal/api/response"
)

// ProviderKeyHeader carries a caller-supplied RunPod key in header mode.
const ProviderKeyHeader = "X-RunPod-Api-Key"

// ProviderKey resolves the RunPod API key a request is served with. In server
// mode every request uses the key from the server environment; in header mode
// each caller brings its own.
type ProviderKey struct {
	headerMode bool
	serverKey  string
}

// NewProviderKey creates the middleware. headerMode selects per-request keys;
// otherwise serverKey is used and may be empty, in which case provider routes
// answer CONFIGURATION_ERROR.
func NewProviderKey(headerMode bool, serverKey string) *ProviderKey {
	return &ProviderKey{headerMode: headerMode, serverKey: serverKey}
}

// Resolve stores the key in the request context or rejects the request.
func (p *ProviderKey) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.headerMode {
			if p.serverKey == "" {
				response.Error(w, http.StatusInternalServerError,
					"CONFIGURATION_ERROR", "RUNPOD_API_KEY is not configured on server", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(SetProviderKey(r.Context(), p.serverKey)))
			return
		}

		key := strings.TrimSpace(r.Header.Get(ProviderKeyHeader))
		if key == "" {
			key = extractBearerToken(r)
		}
		if key == "" {
			response.Error(w, http.StatusUnauthorized,
				"API_KEY_REQUIRED", "A RunPod API key is required in the "+ProviderKeyHeader+" header", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(SetProviderKey(r.Context(), key)))
	})
}

// Mode reports how keys are resolved, for health output.
func (p *ProviderKey) Mode() string {
	if p.headerMode {
		return "per-request"
	}
	if p.serverKey == "" {
		return "missing"
	}
	return "configured"
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
