// Package web is the server rendered front end. Every page obtains a request scoped
// session client from the factory, and every state change ends in a redirect so the
// next render sees the updated cookies.
package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"filippo.io/csrf"
	"github.com/rs/cors"
	httpmiddleware "github.com/wolfeidau/authdemo/internal/http"
	"github.com/wolfeidau/authdemo/internal/session"
	"github.com/wolfeidau/authdemo/internal/store"
)

const (
	PasswordPath = "/email-password"
	OAuthPath    = "/google-login"
	SignOutPath  = "/auth/signout"
	UserAPIPath  = "/api/user"

	oauthProvider     = "google"
	recentEventsLimit = 5
)

// Site serves the authentication demo pages.
type Site struct {
	factory     *session.ServerFactory
	events      store.AuthEventStore
	baseURL     string
	corsOrigins []string
	pages       *pages
}

type Option func(*Site)

// WithBaseURL fixes the public origin used for OAuth callbacks. Without it the origin
// is derived from each request.
func WithBaseURL(baseURL string) Option {
	return func(s *Site) {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithCORSOrigins lists the origins allowed to call the JSON API with credentials.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Site) {
		s.corsOrigins = append(s.corsOrigins, origins...)
	}
}

func NewSite(factory *session.ServerFactory, events store.AuthEventStore, opts ...Option) (*Site, error) {
	if factory == nil {
		return nil, errors.New("session factory is required")
	}
	if events == nil {
		return nil, errors.New("auth event store is required")
	}

	p, err := loadPages()
	if err != nil {
		return nil, err
	}

	s := &Site{
		factory: factory,
		events:  events,
		pages:   p,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.baseURL != "" {
		u, err := url.Parse(s.baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid base URL %q", s.baseURL)
		}
	}

	return s, nil
}

// Handler returns the complete application handler. HTML routes are protected against
// cross origin form posts, the JSON API gets CORS instead.
func (s *Site) Handler() http.Handler {
	html := http.NewServeMux()
	html.HandleFunc("GET /{$}", s.IndexHandler)
	html.HandleFunc("GET "+PasswordPath, s.PasswordPage)
	html.HandleFunc("POST "+PasswordPath, s.PasswordSubmit)
	html.HandleFunc("GET "+OAuthPath, s.OAuthPage)
	html.HandleFunc("POST "+OAuthPath, s.OAuthSubmit)
	html.HandleFunc("GET /auth/callback", s.CallbackHandler)
	html.HandleFunc("GET /welcome", s.WelcomeHandler)
	html.HandleFunc("POST "+SignOutPath, s.SignOutHandler)

	protection := csrf.New()
	if s.baseURL != "" {
		// a proxy may rewrite Host, so the public origin is trusted explicitly
		_ = protection.AddTrustedOrigin(s.baseURL)
	}

	api := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet},
		AllowCredentials: true, // Required for cookie-based authentication
	}).Handler(http.HandlerFunc(s.UserAPIHandler))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.Handle(UserAPIPath, api)
	mux.Handle("/", protection.Handler(html))

	return session.Middleware(httpmiddleware.ClientIPMiddleware()(mux))
}

// origin resolves the public origin for r.
func (s *Site) origin(r *http.Request) string {
	if s.baseURL != "" {
		return s.baseURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}

	return scheme + "://" + r.Host
}
