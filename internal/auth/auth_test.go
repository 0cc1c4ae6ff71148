package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testGuard(enabled bool) *Guard {
	return New(Config{
		JWTSecret:    []byte("test-secret"),
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:3000/auth/callback",
		Enabled:      enabled,
	})
}

func sampleUser() *GithubUser {
	return &GithubUser{
		Login:     "octocat",
		Name:      "The Octocat",
		Email:     "octocat@example.com",
		AvatarURL: "https://example.com/avatar.png",
	}
}

func TestGenerateState_UniqueAndURLSafe(t *testing.T) {
	a := GenerateState()
	b := GenerateState()
	if a == b {
		t.Errorf("expected two states to differ, both were %q", a)
	}
	if strings.ContainsAny(a, " +/") {
		t.Errorf("expected URL-safe state, got %q", a)
	}
}

func TestLoginURL_IncludesClientAndRedirect(t *testing.T) {
	g := testGuard(true)
	url := g.LoginURL("state123")
	for _, want := range []string{"client_id=client-id", "redirect_uri=http://localhost:3000/auth/callback", "state=state123"} {
		if !strings.Contains(url, want) {
			t.Errorf("expected login URL to contain %q, got %q", want, url)
		}
	}
	if strings.Contains(url, "read:org") {
		t.Errorf("expected no org scope without AllowedOrg, got %q", url)
	}
}

func TestLoginURL_AddsOrgScopeWhenRestricted(t *testing.T) {
	g := New(Config{ClientID: "c", RedirectURL: "r", AllowedOrg: "my-org", Enabled: true})
	if url := g.LoginURL("s"); !strings.Contains(url, "read:org") {
		t.Errorf("expected org scope with AllowedOrg set, got %q", url)
	}
}

func TestIssueAndParseToken_RoundTrip(t *testing.T) {
	g := testGuard(true)
	token, err := g.IssueToken(sampleUser())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	user, err := g.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if user.Login != "octocat" || user.Email != "octocat@example.com" {
		t.Errorf("round-tripped user mismatch: %+v", user)
	}
}

func TestParseToken_RejectsWrongSecret(t *testing.T) {
	g := testGuard(true)
	token, err := g.IssueToken(sampleUser())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	other := New(Config{JWTSecret: []byte("different-secret"), Enabled: true})
	if _, err := other.ParseToken(token); err == nil {
		t.Errorf("expected a token signed with another secret to be rejected")
	}
}

func TestParseToken_RejectsExpired(t *testing.T) {
	g := testGuard(true)
	claims := tokenClaims{
		Login: "octocat",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			Subject:   "octocat",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := g.ParseToken(signed); err == nil {
		t.Errorf("expected an expired token to be rejected")
	}
}

func TestParseToken_RejectsGarbage(t *testing.T) {
	g := testGuard(true)
	if _, err := g.ParseToken("not.a.jwt"); err == nil {
		t.Errorf("expected a malformed token to be rejected")
	}
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	g := testGuard(false)
	called := false
	handler := g.Middleware(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/search_code?q=x", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if !called {
		t.Errorf("expected handler invoked with auth disabled")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMiddleware_EnabledRejectsMissingToken(t *testing.T) {
	g := testGuard(true)
	handler := g.Middleware(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("handler must not run without a token")
	})

	req := httptest.NewRequest(http.MethodGet, "/search_code?q=x", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_EnabledAcceptsBearerToken(t *testing.T) {
	g := testGuard(true)
	token, err := g.IssueToken(sampleUser())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	var got *GithubUser
	handler := g.Middleware(func(w http.ResponseWriter, r *http.Request) {
		got = UserFromContext(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/search_code?q=x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got == nil || got.Login != "octocat" {
		t.Errorf("expected authenticated user in context, got %+v", got)
	}
}

func TestMiddleware_EnabledAcceptsCookieToken(t *testing.T) {
	g := testGuard(true)
	token, err := g.IssueToken(sampleUser())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	handler := g.Middleware(func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodGet, "/get_status", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: token})
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with cookie token, got %d", rec.Code)
	}
}

func TestMiddleware_EnabledRejectsInvalidToken(t *testing.T) {
	g := testGuard(true)
	handler := g.Middleware(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("handler must not run with a bad token")
	})

	req := httptest.NewRequest(http.MethodGet, "/get_status", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestUserFromContext_MissingIsNil(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if UserFromContext(req) != nil {
		t.Errorf("expected nil user on a bare request")
	}
}

func TestUserFromContext_PresentIsReturned(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	want := sampleUser()
	req = req.WithContext(context.WithValue(req.Context(), UserContextKey, want))
	if got := UserFromContext(req); got != want {
		t.Errorf("expected the context user back, got %+v", got)
	}
}
