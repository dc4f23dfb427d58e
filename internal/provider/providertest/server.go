// Package providertest runs an in-process fake of the identity provider REST API.
package providertest

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/wolfeidau/authdemo/internal/config"
	"github.com/wolfeidau/authdemo/internal/provider"
	"golang.org/x/oauth2"
)

const (
	APIKey = "test-anon-key"

	// OAuthEmail is the account the fake external provider signs in as.
	OAuthEmail = "oauth.user@example.com"

	signingSecret = "providertest-signing-secret"
)

type account struct {
	user     provider.User
	password string
}

type pendingCode struct {
	email     string
	challenge string
}

// Server is a fake identity provider. The zero value is not usable, use NewServer.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	accounts      map[string]*account // email -> account
	accessTokens  map[string]string   // access token -> email
	refreshTokens map[string]string   // refresh token -> email
	codes         map[string]pendingCode

	// AutoConfirm issues a session straight from sign up.
	AutoConfirm bool

	// GoogleEnabled is reported by the settings endpoint.
	GoogleEnabled bool

	// TokenTTL is the lifetime of issued access tokens.
	TokenTTL time.Duration

	userFailures   int
	settingsHits   int
	signOutCalls   int
	lastAuthorize  url.Values
	requestsByPath map[string]int
}

// NewServer starts a fake provider which is closed when the test finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		accounts:       make(map[string]*account),
		accessTokens:   make(map[string]string),
		refreshTokens:  make(map[string]string),
		codes:          make(map[string]pendingCode),
		GoogleEnabled:  true,
		TokenTTL:       time.Hour,
		requestsByPath: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/signup", s.handleSignUp)
	mux.HandleFunc("POST /auth/v1/token", s.handleToken)
	mux.HandleFunc("GET /auth/v1/user", s.handleUser)
	mux.HandleFunc("POST /auth/v1/logout", s.handleLogout)
	mux.HandleFunc("GET /auth/v1/settings", s.handleSettings)
	mux.HandleFunc("GET /auth/v1/authorize", s.handleAuthorize)

	s.Server = httptest.NewServer(s.requireAPIKey(mux))
	t.Cleanup(s.Close)

	return s
}

// Config returns connection settings pointing at the fake.
func (s *Server) Config() config.Provider {
	return config.Provider{
		URL:       s.URL,
		PublicKey: APIKey,
		Timeout:   5 * time.Second,
	}
}

// AddUser registers a confirmed email and password account.
func (s *Server) AddUser(email, password string) provider.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addAccountLocked(email, password, true).user
}

// FailUserRequests makes the next n user lookups answer 503.
func (s *Server) FailUserRequests(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userFailures = n
}

// ExpireAccessTokens revokes every access token while keeping refresh tokens valid,
// as happens when access tokens expire.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.accessTokens)
}

// Requests returns how many requests reached path, e.g. /auth/v1/settings.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestsByPath[path]
}

// SignOutCalls returns how many logout requests were accepted.
func (s *Server) SignOutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signOutCalls
}

// LastAuthorize returns the query of the most recent authorize request.
func (s *Server) LastAuthorize() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuthorize
}

// IssueCode registers an authorization code for the OAuth account bound to challenge,
// as the authorize endpoint does after a successful external sign in.
func (s *Server) IssueCode(challenge string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := rand.Text()
	s.codes[code] = pendingCode{email: OAuthEmail, challenge: challenge}
	return code
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requestsByPath[r.URL.Path]++
		s.mu.Unlock()

		// the authorize endpoint is a browser navigation and carries no key
		if r.URL.Path != "/auth/v1/authorize" && r.Header.Get("apikey") != APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}

	if len(req.Password) < 6 {
		writeError(w, http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[req.Email]; ok {
		writeError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		return
	}

	acct := s.addAccountLocked(req.Email, req.Password, s.AutoConfirm)
	if s.AutoConfirm {
		writeJSON(w, http.StatusOK, s.issueSessionLocked(acct))
		return
	}

	writeJSON(w, http.StatusOK, acct.user)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "password":
		acct, ok := s.accounts[req["email"]]
		if !ok || acct.password != req["password"] {
			writeError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
			return
		}
		if acct.user.EmailConfirmedAt == nil {
			writeError(w, http.StatusBadRequest, "email_not_confirmed", "Email not confirmed")
			return
		}
		writeJSON(w, http.StatusOK, s.issueSessionLocked(acct))

	case "pkce":
		pending, ok := s.codes[req["auth_code"]]
		if !ok {
			writeError(w, http.StatusNotFound, "flow_state_not_found", "invalid flow state, no valid flow state found")
			return
		}
		if oauth2.S256ChallengeFromVerifier(req["code_verifier"]) != pending.challenge {
			writeError(w, http.StatusBadRequest, "bad_code_verifier", "code challenge does not match previously saved code verifier")
			return
		}
		delete(s.codes, req["auth_code"])

		acct, ok := s.accounts[pending.email]
		if !ok {
			acct = s.addAccountLocked(pending.email, "", true)
		}
		writeJSON(w, http.StatusOK, s.issueSessionLocked(acct))

	case "refresh_token":
		email, ok := s.refreshTokens[req["refresh_token"]]
		if !ok {
			writeError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		delete(s.refreshTokens, req["refresh_token"])
		writeJSON(w, http.StatusOK, s.issueSessionLocked(s.accounts[email]))

	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported_grant_type")
	}
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userFailures > 0 {
		s.userFailures--
		writeError(w, http.StatusServiceUnavailable, "unexpected_failure", "service unavailable")
		return
	}

	email, ok := s.accessTokens[bearer(r)]
	if !ok {
		writeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT: unable to parse or verify signature")
		return
	}

	writeJSON(w, http.StatusOK, s.accounts[email].user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.accessTokens[bearer(r)]
	if !ok {
		writeError(w, http.StatusUnauthorized, "session_not_found", "Session from session_id claim in JWT does not exist")
		return
	}

	// global scope revokes every token of the user
	for tok, owner := range s.accessTokens {
		if owner == email {
			delete(s.accessTokens, tok)
		}
	}
	for tok, owner := range s.refreshTokens {
		if owner == email {
			delete(s.refreshTokens, tok)
		}
	}
	s.signOutCalls++

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, provider.Settings{
		External:          map[string]bool{"email": true, "google": s.GoogleEnabled},
		MailerAutoconfirm: s.AutoConfirm,
	})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	s.mu.Lock()
	s.lastAuthorize = query
	s.mu.Unlock()

	if query.Get("provider") != "google" || !s.GoogleEnabled {
		writeError(w, http.StatusBadRequest, "validation_failed", "Unsupported provider: provider is not enabled")
		return
	}

	redirectTo, err := url.Parse(query.Get("redirect_to"))
	if err != nil || query.Get("code_challenge") == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid authorize request")
		return
	}

	params := redirectTo.Query()
	params.Set("code", s.IssueCode(query.Get("code_challenge")))
	redirectTo.RawQuery = params.Encode()

	http.Redirect(w, r, redirectTo.String(), http.StatusFound)
}

func (s *Server) addAccountLocked(email, password string, confirmed bool) *account {
	now := time.Now().UTC()
	acct := &account{
		password: password,
		user: provider.User{
			ID:        uuid.NewString(),
			Aud:       "authenticated",
			Role:      "authenticated",
			Email:     email,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if confirmed {
		acct.user.EmailConfirmedAt = &now
	}
	s.accounts[email] = acct
	return acct
}

func (s *Server) issueSessionLocked(acct *account) *provider.Session {
	now := time.Now().UTC()
	acct.user.LastSignInAt = &now

	claims := provider.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TokenTTL)),
			ID:        rand.Text(),
		},
		Email:     acct.user.Email,
		Role:      "authenticated",
		SessionID: rand.Text(),
		AAL:       "aal1",
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingSecret))
	if err != nil {
		panic(fmt.Sprintf("providertest: sign access token: %v", err))
	}
	refreshToken := rand.Text()

	s.accessTokens[accessToken] = acct.user.Email
	s.refreshTokens[refreshToken] = acct.user.Email

	user := acct.user
	return &provider.Session{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.TokenTTL.Seconds()),
		ExpiresAt:    now.Add(s.TokenTTL).Unix(),
		RefreshToken: refreshToken,
		User:         &user,
	}
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "error_code": code, "msg": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
