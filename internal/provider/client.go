package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authdemo/internal/config"
	"github.com/wolfeidau/authdemo/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	tracerName = "github.com/wolfeidau/authdemo/internal/provider"

	// maxResponseBytes caps how much of a provider response is read.
	maxResponseBytes = 1 << 20

	defaultMaxTries = 3
)

// Client talks to the identity provider REST API. It is stateless; persisting the
// returned sessions is the caller's concern.
type Client struct {
	authURL     *url.URL
	apiKey      string
	httpClient  *http.Client
	cacheClient *http.Client
	maxTries    uint
	newBackOff  func() backoff.BackOff
}

type Option func(*Client)

// WithHTTPClient overrides the client used for all non-cached calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCachingHTTPClient overrides the client used for the settings endpoint.
func WithCachingHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.cacheClient = hc
	}
}

// WithRetry configures retries of idempotent reads. maxTries counts the first attempt,
// zero is treated as one.
func WithRetry(maxTries uint, newBackOff func() backoff.BackOff) Option {
	return func(c *Client) {
		// backoff treats zero as unlimited
		c.maxTries = max(maxTries, 1)
		c.newBackOff = newBackOff
	}
}

// New creates a provider client from validated connection settings.
func New(cfg config.Provider, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidProviderURL, err)
	}

	c := &Client{
		authURL:  base.JoinPath("auth", "v1"),
		apiKey:   cfg.PublicKey,
		maxTries: defaultMaxTries,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(cfg.Timeout, false)
	}
	if c.cacheClient == nil {
		c.cacheClient = NewCachingHTTPClient("", cfg.Timeout)
	}

	return c, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp registers a new account. The returned session is nil when the provider
// requires email confirmation first.
func (c *Client) SignUp(ctx context.Context, email, password, redirectTo string) (*AuthResponse, error) {
	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}

	var raw json.RawMessage
	if err := c.do(ctx, c.httpClient, "signup", http.MethodPost, "signup", query, "", credentials{Email: email, Password: password}, &raw); err != nil {
		return nil, err
	}

	// an auto confirmed sign up returns a session, otherwise just the user
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if sess.AccessToken != "" {
		return &AuthResponse{User: sess.User, Session: &sess}, nil
	}

	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	return &AuthResponse{User: &user}, nil
}

// SignInWithPassword exchanges an email and password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return c.token(ctx, "password", credentials{Email: email, Password: password})
}

// ExchangeCode completes a PKCE authorization code flow.
func (c *Client) ExchangeCode(ctx context.Context, authCode, codeVerifier string) (*Session, error) {
	return c.token(ctx, "pkce", map[string]string{
		"auth_code":     authCode,
		"code_verifier": codeVerifier,
	})
}

// RefreshSession exchanges a refresh token for a new session. Refresh tokens are
// single use so this is never retried.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	return c.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) token(ctx context.Context, grantType string, body any) (*Session, error) {
	query := url.Values{"grant_type": {grantType}}

	var sess Session
	if err := c.do(ctx, c.httpClient, "token_"+grantType, http.MethodPost, "token", query, "", body, &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response without access token", ErrInvalidResponse)
	}

	if sess.ExpiresAt == 0 && sess.ExpiresIn > 0 {
		sess.ExpiresAt = time.Now().Unix() + sess.ExpiresIn
	}

	return &sess, nil
}

// GetUser returns the user the access token belongs to, as seen by the provider.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, ErrMissingToken
	}

	return retryRead(ctx, c, func() (*User, error) {
		var user User
		if err := c.do(ctx, c.httpClient, "user", http.MethodGet, "user", nil, accessToken, nil, &user); err != nil {
			return nil, err
		}
		return &user, nil
	})
}

// SignOut revokes the session globally at the provider.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return ErrMissingToken
	}

	query := url.Values{"scope": {"global"}}
	return c.do(ctx, c.httpClient, "logout", http.MethodPost, "logout", query, accessToken, nil, nil)
}

// Settings returns the public provider settings. Responses are cached per Cache-Control.
func (c *Client) Settings(ctx context.Context) (*Settings, error) {
	return retryRead(ctx, c, func() (*Settings, error) {
		var settings Settings
		if err := c.do(ctx, c.cacheClient, "settings", http.MethodGet, "settings", nil, "", nil, &settings); err != nil {
			return nil, err
		}
		return &settings, nil
	})
}

// AuthorizeURL builds the URL the user agent is sent to for an external provider sign in.
func (c *Client) AuthorizeURL(providerName, redirectTo, codeChallenge string) string {
	query := url.Values{
		"provider":              {providerName},
		"redirect_to":           {redirectTo},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {ChallengeMethod},
	}

	u := *c.authURL.JoinPath("authorize")
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, hc *http.Client, op, method, path string, query url.Values, accessToken string, body, out any) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "provider."+op)
	defer span.End()

	started := time.Now()
	status := 0
	defer func() {
		telemetry.GetMetrics().ProviderRequestDuration.Record(ctx,
			float64(time.Since(started).Milliseconds()),
			metric.WithAttributes(
				attribute.String("operation", op),
				attribute.Int("status", status),
			))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	u := *c.authURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	status = resp.StatusCode

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := parseError(resp.StatusCode, data)
		log.Ctx(ctx).Debug().
			Str("operation", op).
			Int("status", resp.StatusCode).
			Str("error_code", apiErr.Code).
			Msg("identity provider returned an error")
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidResponse, op, err)
	}

	return nil
}

func retryRead[T any](ctx context.Context, c *Client, op func() (T, error)) (T, error) {
	res, err := backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		if err != nil && !isRetryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.maxTries))

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	return res, err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if apiErr, ok := AsError(err); ok {
		return apiErr.Status >= http.StatusInternalServerError || apiErr.Status == http.StatusTooManyRequests
	}

	// transport failures are worth another attempt, garbage responses are not
	return !errors.Is(err, ErrInvalidResponse)
}
