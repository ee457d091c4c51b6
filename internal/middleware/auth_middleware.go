package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"quillmark-local-engine/pkg/response"
)

// EngineKeyMiddleware gates the local API behind the shared secret the
// UI and the engine both read from the environment. Browsers cannot set
// headers on websocket dials, so the key is also accepted as a query
// parameter. An empty configured key disables the check.
func EngineKeyMiddleware(engineKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engineKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := r.URL.Query().Get("engine_key")
			if token == "" {
				header := r.Header.Get("Authorization")
				parts := strings.Split(header, " ")
				if len(parts) == 2 && parts[0] == "Bearer" {
					token = parts[1]
				}
			}

			if token == "" {
				response.Unauthorized(w, "Missing engine key")
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(engineKey)) != 1 {
				response.Unauthorized(w, "Invalid engine key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
