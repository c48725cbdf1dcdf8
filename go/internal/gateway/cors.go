package gateway

import (
	"net/http"
	"net/url"

	"github.com/rs/cors"
)

// NewCORS builds the CORS middleware for the given origins; "*" allows any origin.
func NewCORS(allowedOrigins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
}

// OriginChecker returns a WebSocket origin check matching the CORS origins.
// Requests without an Origin header are allowed.
func OriginChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
		allowed[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return allowed[u.Scheme+"://"+u.Host]
	}
}
