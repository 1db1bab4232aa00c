package api

import (
	"log"
	"net/http"

	"github.com/transfa/wallet-service/internal/auth"
)

// AuthMiddleware rejects requests without a valid bearer token and stores the
// verified user id on the request context.
func AuthMiddleware(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			userID, err := verifier.Verify(token)
			if err != nil {
				log.Printf("level=warn component=api msg=\"token rejected\" path=%s err=%v", r.URL.Path, err)
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
		})
	}
}
