package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/authdemo/internal/provider"
	"github.com/wolfeidau/authdemo/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	codeVerifierSuffix   = "-code-verifier"
	defaultRefreshMargin = 60 * time.Second
)

var (
	// ErrNoSession is returned when there is no usable session in storage.
	ErrNoSession = errors.New("no active session")

	// ErrMissingCodeVerifier is returned when a code exchange has no stored verifier,
	// usually because the flow was started from a different browser.
	ErrMissingCodeVerifier = errors.New("code verifier not found in storage")
)

// Authenticator is the identity provider API used by the session client.
type Authenticator interface {
	SignUp(ctx context.Context, email, password, redirectTo string) (*provider.AuthResponse, error)
	SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error)
	ExchangeCode(ctx context.Context, authCode, codeVerifier string) (*provider.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*provider.Session, error)
	GetUser(ctx context.Context, accessToken string) (*provider.User, error)
	SignOut(ctx context.Context, accessToken string) error
	AuthorizeURL(providerName, redirectTo, codeChallenge string) string
	Settings(ctx context.Context) (*provider.Settings, error)
}

// Client binds the identity provider API to one session storage. At most one session is
// kept per storage; saving a new one replaces the previous.
type Client struct {
	mu sync.Mutex

	api             Authenticator
	storage         Storage
	storageKey      string
	refreshMargin   time.Duration
	emailRedirectTo string
	now             func() time.Time
}

type ClientOption func(*Client)

// WithRefreshMargin refreshes sessions this long before they expire.
func WithRefreshMargin(d time.Duration) ClientOption {
	return func(c *Client) {
		c.refreshMargin = d
	}
}

// WithEmailRedirectTo sets where confirmation emails send the user.
func WithEmailRedirectTo(url string) ClientOption {
	return func(c *Client) {
		c.emailRedirectTo = url
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(api Authenticator, storage Storage, storageKey string, opts ...ClientOption) *Client {
	c := &Client{
		api:           api,
		storage:       storage,
		storageKey:    storageKey,
		refreshMargin: defaultRefreshMargin,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SignUp registers an account and stores the session if the provider issued one.
func (c *Client) SignUp(ctx context.Context, email, password string) (*provider.AuthResponse, error) {
	resp, err := c.api.SignUp(ctx, email, password, c.emailRedirectTo)
	if err != nil {
		return nil, err
	}

	if resp.Session != nil {
		c.mu.Lock()
		defer c.mu.Unlock()

		if err := c.persist(ctx, resp.Session); err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// SignInWithPassword authenticates and stores the new session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error) {
	sess, err := c.api.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.persist(ctx, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

// SignInWithOAuth stores a fresh PKCE verifier and returns the URL to send the user agent to.
func (c *Client) SignInWithOAuth(ctx context.Context, providerName, redirectTo string) (string, error) {
	pkce := provider.NewPKCE()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store(ctx, c.verifierKey(), pkce.Verifier); err != nil {
		return "", err
	}

	return c.api.AuthorizeURL(providerName, redirectTo, pkce.Challenge), nil
}

// ExchangeCodeForSession completes an OAuth sign in using the stored verifier.
func (c *Client) ExchangeCodeForSession(ctx context.Context, authCode string) (*provider.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	verifier, ok, err := c.storage.GetItem(c.verifierKey())
	if err != nil {
		return nil, fmt.Errorf("failed to read code verifier: %w", err)
	}
	if !ok || verifier == "" {
		return nil, ErrMissingCodeVerifier
	}

	sess, err := c.api.ExchangeCode(ctx, authCode, verifier)
	if err != nil {
		return nil, err
	}

	if err := c.remove(ctx, c.verifierKey()); err != nil {
		return nil, err
	}

	if err := c.persist(ctx, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

// Session returns the stored session, refreshing it when it is about to expire.
// A nil session with a nil error means nobody is signed in.
func (c *Client) Session(ctx context.Context) (*provider.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.currentSession(ctx)
}

// GetUser returns the signed in user as verified by the provider.
func (c *Client) GetUser(ctx context.Context) (*provider.User, error) {
	sess, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}

	user, err := c.api.GetUser(ctx, sess.AccessToken)
	if err != nil {
		if provider.IsSessionInvalid(err) {
			c.mu.Lock()
			defer c.mu.Unlock()

			if rmErr := c.remove(ctx, c.storageKey); rmErr != nil {
				return nil, rmErr
			}
			return nil, fmt.Errorf("%w: %w", ErrNoSession, err)
		}
		return nil, err
	}

	return user, nil
}

// SignOut revokes the session at the provider and always clears it locally.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.load(ctx)
	if err != nil {
		return err
	}

	var signOutErr error
	if sess != nil {
		// a session the provider no longer knows about is already signed out
		if err := c.api.SignOut(ctx, sess.AccessToken); err != nil && !provider.IsSessionInvalid(err) {
			signOutErr = fmt.Errorf("failed to revoke session: %w", err)
		}
	}

	if err := c.remove(ctx, c.storageKey); err != nil {
		return err
	}
	if err := c.remove(ctx, c.verifierKey()); err != nil {
		return err
	}

	return signOutErr
}

// Settings returns the provider's public settings.
func (c *Client) Settings(ctx context.Context) (*provider.Settings, error) {
	return c.api.Settings(ctx)
}

func (c *Client) currentSession(ctx context.Context) (*provider.Session, error) {
	sess, err := c.load(ctx)
	if err != nil || sess == nil {
		return nil, err
	}

	if !sess.NeedsRefresh(c.now(), c.refreshMargin) {
		return sess, nil
	}

	refreshed, err := c.api.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		recordRefresh(ctx, "failure")
		if provider.IsSessionInvalid(err) {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("refresh token rejected, clearing session")
			return nil, c.remove(ctx, c.storageKey)
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	recordRefresh(ctx, "success")

	if err := c.persist(ctx, refreshed); err != nil {
		return nil, err
	}

	return refreshed, nil
}

func (c *Client) load(ctx context.Context) (*provider.Session, error) {
	raw, ok, err := c.storage.GetItem(c.storageKey)
	if err != nil {
		if errors.Is(err, ErrMalformedCookie) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("discarding malformed session")
			return nil, c.remove(ctx, c.storageKey)
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var sess provider.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil || sess.AccessToken == "" {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("discarding unreadable session")
		return nil, c.remove(ctx, c.storageKey)
	}

	return &sess, nil
}

func (c *Client) persist(ctx context.Context, sess *provider.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return c.store(ctx, c.storageKey, string(data))
}

func (c *Client) store(ctx context.Context, key, value string) error {
	return c.storageResult(ctx, key, "write", c.storage.SetItem(key, value))
}

func (c *Client) remove(ctx context.Context, key string) error {
	return c.storageResult(ctx, key, "remove", c.storage.RemoveItem(key))
}

// storageResult downgrades refused cookie writes to a warning. Some render contexts
// cannot set cookies and the request must still succeed.
func (c *Client) storageResult(ctx context.Context, key, op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrCookiesReadOnly) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Str("op", op).Msg("session cookies not updated")
		telemetry.GetMetrics().CookieWritesRefusedTotal.Add(ctx, 1)
		return nil
	}

	return fmt.Errorf("failed to %s %s: %w", op, key, err)
}

func (c *Client) verifierKey() string {
	return c.storageKey + codeVerifierSuffix
}

func recordRefresh(ctx context.Context, outcome string) {
	telemetry.GetMetrics().SessionRefreshTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}
