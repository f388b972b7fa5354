package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	providerKeyKey contextKey = "provider_key"
)

// SetProviderKey stores the RunPod API key resolved for the request.
func SetProviderKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, providerKeyKey, key)
}

// GetProviderKey returns the RunPod API key resolved by ProviderKey.Resolve.
func GetProviderKey(r *http.Request) (string, bool) {
	key, ok := r.Context().Value(providerKeyKey).(string)
	return key, ok && key != ""
}
