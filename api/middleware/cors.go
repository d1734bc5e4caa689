package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// localDevOrigin is allowed when no origins are configured.
const localDevOrigin = "http://localhost:3000"

// CORS applies the storefront and seller dashboard origin policy. Replay and
// request-id headers are exposed so clients can tell a replayed checkout
// from a fresh one.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{localDevOrigin}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"Idempotency-Key",
			"X-Cart-Session",
			requestIDHeader,
		},
		ExposedHeaders:   []string{requestIDHeader, replayedHeader},
		AllowCredentials: true,
		MaxAge:           600,
	}).Handler
}
