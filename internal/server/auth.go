package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/server/apiutil"
	"github.com/rs/zerolog"
)

// Authenticator resolves bearer tokens into role sets. Requests without a
// token proceed anonymously and may only read; an unknown token is rejected.
type Authenticator struct {
	tokens map[string]domain.RoleSet
	log    zerolog.Logger
}

// NewAuthenticator creates an authenticator over the configured tokens
func NewAuthenticator(tokens map[string]domain.RoleSet, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		tokens: tokens,
		log:    log.With().Str("component", "auth").Logger(),
	}
}

// Middleware attaches the caller's capabilities to the request context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r.WithContext(apiutil.WithCapabilities(r.Context(), domain.RoleSet{})))
			return
		}

		caps, ok := a.resolve(token)
		if !ok {
			a.log.Warn().
				Str("remote_addr", r.RemoteAddr).
				Str("path", r.URL.Path).
				Msg("Rejected unknown bearer token")
			w.Header().Set("WWW-Authenticate", `Bearer realm="tierindex"`)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(apiutil.WithCapabilities(r.Context(), caps)))
	})
}

// resolve compares against every token so timing does not reveal a prefix match
func (a *Authenticator) resolve(token string) (domain.RoleSet, bool) {
	var found domain.RoleSet
	for candidate, roles := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			found = roles
		}
	}
	return found, found != nil
}

// bearerToken reads the Authorization header, falling back to ?token= for
// websocket clients that cannot set headers
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
