package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/andrebq/doorman/auth"
	"github.com/andrebq/doorman/internal/metrics"
	"github.com/andrebq/doorman/internal/testutil"
	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
)

type (
	brokenAuthenticator struct{}
)

func (brokenAuthenticator) Register(ctx context.Context, identifier string, passwd auth.PlainText) error {
	return auth.Internal{Op: "create user"}
}

func (brokenAuthenticator) Login(ctx context.Context, identifier string, passwd auth.PlainText) (auth.Principal, error) {
	return auth.Principal{}, fmt.Errorf("disk on fire")
}

func TestSessionLifecycle(t *testing.T) {
	handler, cleanup := tempHandler(t)
	defer cleanup()

	apitest.New().
		Handler(handler).
		Post("/register").
		JSON(`{"identifier": "alice", "password": "pw1"}`).
		Expect(t).
		Status(http.StatusCreated).
		Assert(jsonpath.Present("$.message")).
		End()

	res := apitest.New().
		Handler(handler).
		Post("/login").
		JSON(`{"identifier": "alice", "password": "pw1"}`).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.identifier", "alice")).
		Assert(jsonpath.Present("$.token")).
		Assert(jsonpath.Present("$.expires_at")).
		Assert(jsonpath.NotPresent("$.password_hash")).
		CookiePresent(SessionCookieName).
		End()
	tk := sessionCookie(t, res.Response)

	apitest.New().
		Handler(handler).
		Get("/welcome").
		Header("Authorization", fmt.Sprintf("Bearer %v", tk)).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.identifier", "alice")).
		Assert(jsonpath.Equal("$.message", "Hello, alice!")).
		Assert(jsonpath.Present("$.user_id")).
		Assert(jsonpath.Present("$.accessed_at")).
		Assert(jsonpath.NotPresent("$.password_hash")).
		End()

	apitest.New().
		Handler(handler).
		Get("/welcome").
		Cookie(SessionCookieName, tk).
		Expect(t).
		Status(http.StatusOK).
		End()

	apitest.New().
		Handler(handler).
		Post("/logout").
		Header("Authorization", fmt.Sprintf("Bearer %v", tk)).
		Expect(t).
		Status(http.StatusOK).
		End()

	apitest.New().
		Handler(handler).
		Get("/welcome").
		Header("Authorization", fmt.Sprintf("Bearer %v", tk)).
		Expect(t).
		Status(http.StatusUnauthorized).
		Body(`{"error": "you must log in to access this resource"}`).
		End()

	// logging out twice is fine
	apitest.New().
		Handler(handler).
		Get("/logout").
		Cookie(SessionCookieName, tk).
		Expect(t).
		Status(http.StatusOK).
		End()
}

func TestEachLoginIsANewSession(t *testing.T) {
	handler, cleanup := tempHandler(t)
	defer cleanup()

	mustRegister(t, handler, "dave", "pw")
	first := mustLogin(t, handler, "dave", "pw")
	second := mustLogin(t, handler, "dave", "pw")
	if first == second {
		t.Fatal("every login should produce a new token")
	}

	apitest.New().
		Handler(handler).
		Get("/logout").
		Header("Authorization", fmt.Sprintf("Bearer %v", first)).
		Expect(t).
		Status(http.StatusOK).
		End()

	apitest.New().
		Handler(handler).
		Get("/welcome").
		Header("Authorization", fmt.Sprintf("Bearer %v", second)).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.identifier", "dave")).
		End()
}

func TestRegisterValidation(t *testing.T) {
	handler, cleanup := tempHandler(t)
	defer cleanup()

	for _, body := range []string{
		`{"identifier": "", "password": "x"}`,
		`{"identifier": "   ", "password": "x"}`,
		`{"identifier": "bob", "password": ""}`,
		`{"identifier": "bob"}`,
		`{"password": "x"}`,
		`{}`,
		`not json`,
		`{"identifier": "bob", "password": "pw"} garbage`,
		`{"identifier": "bob", "password": "pw"}{"identifier": "eve", "password": "pw"}`,
	} {
		apitest.New().
			Handler(handler).
			Post("/register").
			Body(body).
			Header("Content-Type", "application/json").
			Expect(t).
			Status(http.StatusBadRequest).
			Assert(jsonpath.Present("$.error")).
			End()
	}

	// nothing above should have created bob, so bob is still free
	mustRegister(t, handler, "bob", "pw2")
}

func TestRegisterLongIdentifier(t *testing.T) {
	handler, cleanup := tempHandler(t)
	defer cleanup()

	long := strings.Repeat("g", 300)
	mustRegister(t, handler, long, "pw")
	apitest.New().
		Handler(handler).
		Post("/login").
		JSON(map[string]string{"identifier": long, "password": "pw"}).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.identifier", long)).
		End()
}

func TestRegisterDuplicate(t *testing.T) {
	handler, cleanup := tempHandler(t)
	defer cleanup()

	mustRegister(t, handler, "carol", "a")
	apitest.New().
		Handler(handler).
		Post("/register").
		JSON(`{"identifier": "carol", "password": "b"}`).
		Expect(t).
		Status(http.StatusConflict).
		Body(`{"error": "user already exists"}`).
		End()

	// the original password still works
	mustLogin(t, handler, "carol", "a")
	apitest.New().
		Handler(handler).
		Post("/login").
		JSON(`{"identifier": "carol", "password": "b"}`).
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
}

func TestLoginFailuresLookTheSame(t *testing.T) {
	handler, cleanup := tempHandler(t)
	defer cleanup()

	mustRegister(t, handler, "alice", "pw1")
	for _, body := range []string{
		`{"identifier": "alice", "password": "wrong"}`,
		`{"identifier": "nobody", "password": "pw1"}`,
		`{"identifier": "Alice", "password": "pw1"}`,
		`{"identifier": "alice", "password": ""}`,
		`{"identifier": "", "password": "pw1"}`,
	} {
		apitest.New().
			Handler(handler).
			Post("/login").
			JSON(body).
			Expect(t).
			Status(http.StatusUnauthorized).
			Body(`{"error": "invalid credentials"}`).
			CookieNotPresent(SessionCookieName).
			End()
	}

	apitest.New().
		Handler(handler).
		Post("/login").
		JSON(`{"identifier": "alice"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		End()
}

func TestWelcomeWithoutSession(t *testing.T) {
	handler, cleanup := tempHandler(t)
	defer cleanup()

	apitest.New().
		Handler(handler).
		Get("/welcome").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
	apitest.New().
		Handler(handler).
		Get("/welcome").
		Header("Authorization", "Bearer not-a-real-token").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
	apitest.New().
		Handler(handler).
		Get("/welcome").
		Cookie(SessionCookieName, "not-a-real-token").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
	apitest.New().
		Handler(handler).
		Get("/logout").
		Expect(t).
		Status(http.StatusOK).
		End()
}

func TestInternalErrorsAreHidden(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gate, cleanup := testutil.AcquireGate(ctx, t, time.Hour)
	defer cleanup()
	handler := AsHandler(ctx, brokenAuthenticator{}, NewRealm(gate, nil, true), nil)

	res := apitest.New().
		Handler(handler).
		Post("/login").
		JSON(`{"identifier": "alice", "password": "pw1"}`).
		Expect(t).
		Status(http.StatusInternalServerError).
		Body(`{"error": "internal server error"}`).
		End()
	if res.Response.Header.Get("Set-Cookie") != "" {
		t.Fatal("failed logins should never set a cookie")
	}
	apitest.New().
		Handler(handler).
		Post("/register").
		JSON(`{"identifier": "alice", "password": "pw1"}`).
		Expect(t).
		Status(http.StatusInternalServerError).
		Body(`{"error": "internal server error"}`).
		End()
}

func TestServiceEndpoints(t *testing.T) {
	handler, cleanup := tempHandler(t)
	defer cleanup()

	apitest.New().
		Handler(handler).
		Get("/").
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.service", "doorman")).
		Assert(jsonpath.Present("$.endpoints.login")).
		End()
	apitest.New().
		Handler(handler).
		Get("/healthz").
		Expect(t).
		Status(http.StatusOK).
		Body(`{"status": "ok"}`).
		End()

	mustRegister(t, handler, "erin", "pw")
	apitest.New().
		Handler(handler).
		Get("/metrics").
		Expect(t).
		Status(http.StatusOK).
		Assert(func(res *http.Response, _ *http.Request) error {
			if res.Header.Get("Content-Type") == "" {
				return errors.New("metrics should have a content type")
			}
			return nil
		}).
		End()
}

func TestCookieAttributes(t *testing.T) {
	handler, cleanup := tempHandler(t)
	defer cleanup()

	mustRegister(t, handler, "frank", "pw")
	res := apitest.New().
		Handler(handler).
		Post("/login").
		JSON(`{"identifier": "frank", "password": "pw"}`).
		Expect(t).
		Status(http.StatusOK).
		End()
	var found *http.Cookie
	for _, c := range res.Response.Cookies() {
		if c.Name == SessionCookieName {
			found = c
		}
	}
	if found == nil {
		t.Fatal("login should set the session cookie")
	}
	if !found.HttpOnly {
		t.Error("session cookie must be http only")
	}
	if found.SameSite != http.SameSiteLaxMode {
		t.Errorf("session cookie should be SameSite=Lax got %v", found.SameSite)
	}
	if found.MaxAge <= 0 {
		t.Errorf("session cookie should expire with the session, got max-age %v", found.MaxAge)
	}

	res = apitest.New().
		Handler(handler).
		Post("/logout").
		Cookie(SessionCookieName, found.Value).
		Expect(t).
		Status(http.StatusOK).
		End()
	for _, c := range res.Response.Cookies() {
		if c.Name == SessionCookieName && (c.MaxAge >= 0 || c.Value != "") {
			t.Errorf("logout should clear the cookie, got %v", c)
		}
	}
}

func tempHandler(t *testing.T) (http.Handler, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	store, cleanupStore := testutil.AcquireCredentialStore(ctx, t, "users.db")
	gate, cleanupGate := testutil.AcquireGate(ctx, t, time.Hour)
	authn := auth.New(store, auth.WithHasher(auth.NewArgon2Hasher(auth.Argon2Params{
		Time:      1,
		MemoryKiB: 1024,
		Threads:   1,
	})))
	m := metrics.New()
	return AsHandler(ctx, authn, NewRealm(gate, m, true), m), func() {
		cancel()
		cleanupGate()
		cleanupStore()
	}
}

func mustRegister(t *testing.T, handler http.Handler, identifier, passwd string) {
	apitest.New().
		Handler(handler).
		Post("/register").
		JSON(map[string]string{"identifier": identifier, "password": passwd}).
		Expect(t).
		Status(http.StatusCreated).
		End()
}

func mustLogin(t *testing.T, handler http.Handler, identifier, passwd string) string {
	res := apitest.New().
		Handler(handler).
		Post("/login").
		JSON(map[string]string{"identifier": identifier, "password": passwd}).
		Expect(t).
		Status(http.StatusOK).
		End()
	return sessionCookie(t, res.Response)
}

func sessionCookie(t *testing.T, res *http.Response) string {
	for _, c := range res.Cookies() {
		if c.Name == SessionCookieName && len(strings.TrimSpace(c.Value)) > 0 {
			return c.Value
		}
	}
	t.Fatal("response does not carry a session cookie")
	return ""
}
