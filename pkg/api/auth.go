package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authenticate checks a bearer or query token against the configured token
// set and returns the matching client name. With no tokens configured every
// caller authenticates as "anonymous" (local development).
func (s *Server) authenticate(r *http.Request) (string, bool) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" && len(s.auth.Tokens) > 0 {
		return "", false
	}
	return s.checkToken(token)
}

func (s *Server) checkToken(token string) (string, bool) {
	if len(s.auth.Tokens) == 0 {
		return "anonymous", true
	}
	for name, want := range s.auth.Tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1 {
			return name, true
		}
	}
	return "", false
}
