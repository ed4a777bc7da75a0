// Package api exposes registration, login, logout and the welcome
// resource over HTTP using JSON bodies.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/andrebq/doorman/auth"
	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/internal/metrics"
	"github.com/julienschmidt/httprouter"
)

type (
	Authenticator interface {
		Register(ctx context.Context, identifier string, passwd auth.PlainText) error
		Login(ctx context.Context, identifier string, passwd auth.PlainText) (auth.Principal, error)
	}

	credentialsRequest struct {
		Identifier *string `json:"identifier"`
		Password   *string `json:"password"`
	}

	messageResponse struct {
		Message string `json:"message"`
	}

	loginResponse struct {
		Message    string     `json:"message"`
		Identifier string     `json:"identifier"`
		Token      string     `json:"token"`
		ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	}

	welcomeResponse struct {
		Message    string    `json:"message"`
		UserID     int64     `json:"user_id"`
		Identifier string    `json:"identifier"`
		AccessedAt time.Time `json:"accessed_at"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

var (
	errTrailingData = errors.New("unexpected data after the request body")
)

const (
	maxBodySize = 64 * 1024

	msgInternal           = "internal server error"
	msgMissingFields      = "incomplete data, identifier and password are required"
	msgAlreadyExists      = "user already exists"
	msgInvalidCredentials = "invalid credentials"
	msgUnauthenticated    = "you must log in to access this resource"
)

// AsHandler returns the http.Handler with every public route
func AsHandler(ctx context.Context, authn Authenticator, realm *SecurityRealm, m *metrics.Metrics) http.Handler {
	router := httprouter.New()
	router.HandlerFunc("GET", "/", index)
	router.HandlerFunc("GET", "/healthz", healthz)
	router.Handler("GET", "/metrics", m.Handler())

	router.HandlerFunc("POST", "/register", register(authn, m))
	router.HandlerFunc("POST", "/login", login(authn, realm, m))
	router.HandlerFunc("GET", "/logout", logout(realm, m))
	router.HandlerFunc("POST", "/logout", logout(realm, m))
	router.Handler("GET", "/welcome", realm.Protect(http.HandlerFunc(welcome)))
	return router
}

func index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "doorman",
		"endpoints": map[string]string{
			"register": "POST /register - register a new user",
			"login":    "POST /login - start a session",
			"welcome":  "GET /welcome - welcome page (requires a session)",
			"logout":   "GET|POST /logout - end the current session",
		},
	})
}

func healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func register(authn Authenticator, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logutil.GetOrDefault(ctx)
		req, ok := readCredentials(w, r)
		if !ok {
			m.Registration(metrics.OutcomeInvalidInput)
			return
		}
		passwd := auth.PlainText(*req.Password)
		defer passwd.Zero()
		err := authn.Register(ctx, *req.Identifier, passwd)
		var invalid auth.InvalidInput
		switch {
		case err == nil:
			m.Registration(metrics.OutcomeOK)
			log.Info().Str("identifier", *req.Identifier).Msg("User registered")
			writeJSON(w, http.StatusCreated, messageResponse{Message: "user registered successfully"})
		case errors.As(err, &invalid):
			m.Registration(metrics.OutcomeInvalidInput)
			writeError(w, http.StatusBadRequest, invalid.Error())
		case errors.As(err, &auth.AlreadyExists{}):
			m.Registration(metrics.OutcomeConflict)
			writeError(w, http.StatusConflict, msgAlreadyExists)
		default:
			m.Registration(metrics.OutcomeError)
			log.Error().Err(err).Msg("Unable to register user")
			writeError(w, http.StatusInternalServerError, msgInternal)
		}
	}
}

func login(authn Authenticator, realm *SecurityRealm, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logutil.GetOrDefault(ctx)
		req, ok := readCredentials(w, r)
		if !ok {
			m.Login(metrics.OutcomeInvalidInput)
			return
		}
		passwd := auth.PlainText(*req.Password)
		defer passwd.Zero()
		principal, err := authn.Login(ctx, *req.Identifier, passwd)
		var invalid auth.InvalidInput
		switch {
		case err == nil:
		case errors.As(err, &invalid):
			m.Login(metrics.OutcomeInvalidInput)
			writeError(w, http.StatusBadRequest, invalid.Error())
			return
		case errors.As(err, &auth.InvalidCredentials{}):
			m.Login(metrics.OutcomeDenied)
			log.Info().Msg("Login denied")
			writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
			return
		default:
			m.Login(metrics.OutcomeError)
			log.Error().Err(err).Msg("Unable to verify credentials")
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}

		tk, id, err := realm.gate.Start(ctx, principal.UserID, principal.Identifier)
		if err != nil {
			m.Login(metrics.OutcomeError)
			log.Error().Err(err).Int64("user_id", principal.UserID).Msg("Unable to start session")
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		m.Login(metrics.OutcomeOK)
		log.Info().Int64("user_id", principal.UserID).Msg("Session started")
		realm.setCookie(w, tk, id)
		res := loginResponse{
			Message:    "login successful",
			Identifier: principal.Identifier,
			Token:      string(tk),
		}
		if !id.ExpiresAt.IsZero() {
			res.ExpiresAt = &id.ExpiresAt
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func logout(realm *SecurityRealm, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logutil.GetOrDefault(ctx)
		err := realm.gate.End(ctx, realm.tokenFrom(r))
		if err != nil {
			log.Error().Err(err).Msg("Unable to end session")
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		m.Logout()
		realm.clearCookie(w)
		writeJSON(w, http.StatusOK, messageResponse{Message: "logged out successfully"})
	}
}

func welcome(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		// only reachable if someone forgot to wrap the handler with Protect
		writeError(w, http.StatusUnauthorized, msgUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, welcomeResponse{
		Message:    fmt.Sprintf("Hello, %v!", id.Identifier),
		UserID:     id.UserID,
		Identifier: id.Identifier,
		AccessedAt: time.Now().UTC(),
	})
}

// readCredentials writes the error response itself when the body is not acceptable
func readCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	err := dec.Decode(&req)
	if err == nil && dec.Decode(&struct{}{}) != io.EOF {
		// only one object per request
		err = errTrailingData
	}
	if err != nil || req.Identifier == nil || req.Password == nil {
		writeError(w, http.StatusBadRequest, msgMissingFields)
		return credentialsRequest{}, false
	}
	return req, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	buf, err := json.Marshal(body)
	if err != nil {
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf)
}
