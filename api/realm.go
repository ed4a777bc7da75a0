package api

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/internal/metrics"
	"github.com/andrebq/doorman/session"
)

type (
	// SecurityRealm decides which requests carry a valid session
	SecurityRealm struct {
		gate           *session.Gate
		metrics        *metrics.Metrics
		insecureCookie bool
	}

	identityKey struct{}
)

const (
	SessionCookieName = "doorman_session"
)

var (
	bearerTokenRE = regexp.MustCompile(`^Bearer ([^\s]+)$`)
)

func NewRealm(gate *session.Gate, m *metrics.Metrics, allowHTTPCookie bool) *SecurityRealm {
	return &SecurityRealm{
		gate:           gate,
		metrics:        m,
		insecureCookie: allowHTTPCookie,
	}
}

// Protect only calls sensitive if the request has a valid session,
// the identity is available to sensitive through IdentityFrom.
func (s *SecurityRealm) Protect(sensitive http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logutil.GetOrDefault(ctx)
		id, found, err := s.gate.Lookup(ctx, s.tokenFrom(r))
		if err != nil {
			log.Error().Err(err).Msg("Unexpected error when checking for token in session store")
			s.metrics.SessionCheck(metrics.OutcomeError)
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		} else if !found {
			s.metrics.SessionCheck(metrics.OutcomeDenied)
			writeError(w, http.StatusUnauthorized, msgUnauthenticated)
			return
		}
		s.metrics.SessionCheck(metrics.OutcomeOK)
		sensitive.ServeHTTP(w, r.WithContext(context.WithValue(ctx, identityKey{}, id)))
	})
}

// IdentityFrom returns the identity placed in ctx by Protect
func IdentityFrom(ctx context.Context) (session.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(session.Identity)
	return id, ok
}

// tokenFrom prefers the Authorization header over the session cookie
func (s *SecurityRealm) tokenFrom(r *http.Request) session.Token {
	groups := bearerTokenRE.FindStringSubmatch(r.Header.Get("Authorization"))
	if len(groups) == 2 {
		return session.Token(groups[1])
	}
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return session.Token(c.Value)
}

func (s *SecurityRealm) setCookie(w http.ResponseWriter, tk session.Token, id session.Identity) {
	c := &http.Cookie{
		Name:     SessionCookieName,
		Value:    string(tk),
		Path:     "/",
		HttpOnly: true,
		Secure:   !s.insecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if !id.ExpiresAt.IsZero() {
		c.Expires = id.ExpiresAt
		c.MaxAge = int(time.Until(id.ExpiresAt).Seconds())
	}
	http.SetCookie(w, c)
}

func (s *SecurityRealm) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   !s.insecureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
