package cache

import "fmt"

// RateLimitKey is the per-client request counter key.
func RateLimitKey(clientID string) string {
	return fmt.Sprintf("ratelimit:%s", clientID)
}
