// Package auth guards the protocol server's operations with GitHub OAuth
// and JWT bearer tokens. It is infrastructure for whichever surface embeds
// the engine, not part of the reasoning pipeline itself: the CLI's serve
// subcommand wraps each handler in Guard.Middleware and the rest of the
// engine never sees a user.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a private key type for request-context values.
type ContextKey string

const UserContextKey ContextKey = "user"

// tokenTTL bounds how long an issued JWT stays valid.
const tokenTTL = 24 * time.Hour

// GithubUser is the subset of the GitHub user payload carried in tokens.
type GithubUser struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type tokenClaims struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	jwt.RegisteredClaims
}

// Config carries the OAuth application credentials and the JWT signing
// secret. Enabled false turns the Guard into a pass-through.
type Config struct {
	JWTSecret    []byte
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AllowedOrg   string
	Enabled      bool
}

// Guard is an explicitly-constructed authentication handle. Construct one
// in main and share it across handlers; there is no package-level state.
type Guard struct {
	cfg  Config
	http *http.Client
}

// New constructs a Guard from cfg.
func New(cfg Config) *Guard {
	return &Guard{cfg: cfg, http: &http.Client{Timeout: 10 * time.Second}}
}

// Enabled reports whether requests must carry a valid token.
func (g *Guard) Enabled() bool { return g.cfg.Enabled }

// GenerateState creates a random state parameter for the OAuth handshake.
func GenerateState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-state-%d", time.Now().Unix())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// LoginURL returns the GitHub authorize URL for the configured OAuth app.
func (g *Guard) LoginURL(state string) string {
	scope := "read:user,user:email"
	if g.cfg.AllowedOrg != "" {
		scope += ",read:org"
	}
	return fmt.Sprintf(
		"https://github.com/login/oauth/authorize?client_id=%s&redirect_uri=%s&scope=%s&state=%s",
		g.cfg.ClientID, g.cfg.RedirectURL, scope, state,
	)
}

// ExchangeCode trades an OAuth callback code for a GitHub access token.
func (g *Guard) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := fmt.Sprintf("client_id=%s&client_secret=%s&code=%s",
		g.cfg.ClientID, g.cfg.ClientSecret, code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://github.com/login/oauth/access_token", strings.NewReader(form))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("github token exchange returned no access token")
	}
	return result.AccessToken, nil
}

// FetchUser resolves an access token to its GitHub user, enforcing the
// allowed-organization restriction when one is configured.
func (g *Guard) FetchUser(ctx context.Context, accessToken string) (*GithubUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github user lookup returned status %d", resp.StatusCode)
	}

	var user GithubUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}

	if g.cfg.AllowedOrg != "" && !g.isOrgMember(ctx, accessToken, user.Login) {
		return nil, fmt.Errorf("user %s is not a member of organization %s", user.Login, g.cfg.AllowedOrg)
	}
	return &user, nil
}

func (g *Guard) isOrgMember(ctx context.Context, accessToken, username string) bool {
	url := fmt.Sprintf("https://api.github.com/orgs/%s/members/%s", g.cfg.AllowedOrg, username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := g.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	// 204 for a public member, 200 for a private member.
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent
}

// IssueToken signs a JWT carrying the user's identity.
func (g *Guard) IssueToken(user *GithubUser) (string, error) {
	claims := tokenClaims{
		Login:     user.Login,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   user.Login,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.cfg.JWTSecret)
}

// ParseToken validates a JWT and returns the user it identifies.
func (g *Guard) ParseToken(tokenString string) (*GithubUser, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return g.cfg.JWTSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return &GithubUser{
		Login:     claims.Login,
		Name:      claims.Name,
		Email:     claims.Email,
		AvatarURL: claims.AvatarURL,
	}, nil
}

// Middleware validates the request's bearer token (header or auth_token
// cookie) when the Guard is enabled, attaching the user to the request
// context. A disabled Guard passes every request through untouched.
func (g *Guard) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		var tokenString string
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else if cookie, err := r.Cookie("auth_token"); err == nil {
			tokenString = cookie.Value
		}

		if tokenString == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		user, err := g.ParseToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// UserFromContext extracts the authenticated user from a request handled
// behind Middleware, or nil when auth is disabled.
func UserFromContext(r *http.Request) *GithubUser {
	if user, ok := r.Context().Value(UserContextKey).(*GithubUser); ok {
		return user
	}
	return nil
}
