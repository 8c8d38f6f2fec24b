package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerAuth rejects any request whose Authorization header does not carry
// the configured token. The comparison is constant time so response timing
// reveals nothing about how much of a guessed token matched.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		presented = strings.TrimSpace(presented)
		if !ok || presented == "" {
			s.writeError(w, http.StatusUnauthorized, "bearer token required")
			return
		}

		want := s.config.Token
		if want == "" || len(presented) != len(want) ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(want)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
