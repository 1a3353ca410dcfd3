package api

import (
	"net/http"
	"strings"

	"formhooks/internal/auth"
)

// getPrincipal resolves the caller.
// - Authorization: Bearer uses the configured verifier (dev/hmac/jwks).
// - access_token query parameter is accepted for WebSocket and EventSource clients.
// - In dev mode only, X-Owner-Id / X-Role headers are a fallback.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, bool) {
	tok := ""
	if authz := r.Header.Get("Authorization"); len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		tok = strings.TrimSpace(authz[len("bearer "):])
	} else if q := r.URL.Query().Get("access_token"); q != "" {
		tok = q
	}
	if tok != "" && s.Auth != nil {
		pr, err := s.Auth.Verify(tok)
		if err != nil {
			s.Logger.Debug("rejected bearer token", "path", r.URL.Path, "error", err)
			return auth.Principal{}, false
		}
		return pr, true
	}
	if s.Auth == nil || s.Auth.Dev() {
		owner := strings.TrimSpace(r.Header.Get("X-Owner-Id"))
		if owner == "" {
			return auth.Principal{}, false
		}
		role := r.Header.Get("X-Role")
		if role == "" {
			role = "admin"
		}
		return auth.Principal{Owner: owner, Role: strings.ToLower(role)}, true
	}
	return auth.Principal{}, false
}

// requireOwner writes a 401 problem and returns false when the caller is anonymous.
func (s *Server) requireOwner(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	pr, ok := s.getPrincipal(r)
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required", r.URL.Path)
		return pr, false
	}
	return pr, true
}
