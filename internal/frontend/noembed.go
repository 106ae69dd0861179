//go:build !embed

package frontend

import "net/http"

// Handler returns nil when the binary is built without -tags embed; callers
// fall back to serving Dir from disk.
func Handler() http.Handler {
	return nil
}
