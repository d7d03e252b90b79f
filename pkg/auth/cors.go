package auth

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// CORSMiddleware opens the API to browser clients such as an approval UI.
// An empty origin list allows every origin.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			contracts.HeaderAPIKey,
			contracts.HeaderSignature,
			contracts.HeaderAgentID,
			contracts.HeaderVersion,
			contracts.HeaderRequestID,
		},
		ExposedHeaders: []string{"Retry-After", contracts.HeaderRequestID},
		MaxAge:         86400,
	})
	return c.Handler
}
