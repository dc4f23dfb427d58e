package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/authdemo/internal/config"
	"github.com/wolfeidau/authdemo/internal/provider"
	"github.com/wolfeidau/authdemo/internal/provider/providertest"
)

func newTestClient(t *testing.T, srv *providertest.Server) *provider.Client {
	t.Helper()

	client, err := provider.New(srv.Config(), provider.WithRetry(3, func() backoff.BackOff {
		return &backoff.ZeroBackOff{}
	}))
	require.NoError(t, err)
	return client
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := provider.New(config.Provider{PublicKey: "anon"})
	require.ErrorIs(t, err, config.ErrMissingProviderURL)

	_, err = provider.New(config.Provider{URL: "https://abcd.supabase.co"})
	require.ErrorIs(t, err, config.ErrMissingPublicKey)
}

func TestClient_SignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmation required returns no session", func(t *testing.T) {
		srv := providertest.NewServer(t)
		client := newTestClient(t, srv)

		resp, err := client.SignUp(ctx, "new@example.com", "password123", "")
		require.NoError(t, err)
		require.NotNil(t, resp.User)
		assert.Equal(t, "new@example.com", resp.User.Email)
		assert.Nil(t, resp.Session)
	})

	t.Run("auto confirm returns session", func(t *testing.T) {
		srv := providertest.NewServer(t)
		srv.AutoConfirm = true
		client := newTestClient(t, srv)

		resp, err := client.SignUp(ctx, "new@example.com", "password123", "")
		require.NoError(t, err)
		require.NotNil(t, resp.Session)
		assert.NotEmpty(t, resp.Session.AccessToken)
		assert.Equal(t, "new@example.com", resp.User.Email)
	})

	t.Run("duplicate account is a provider error", func(t *testing.T) {
		srv := providertest.NewServer(t)
		srv.AddUser("taken@example.com", "password123")
		client := newTestClient(t, srv)

		_, err := client.SignUp(ctx, "taken@example.com", "password123", "")
		require.Error(t, err)

		apiErr, ok := provider.AsError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
		assert.Equal(t, "user_already_exists", apiErr.Code)
		assert.Equal(t, "User already registered", apiErr.Error())
	})
}

func TestClient_SignInWithPassword(t *testing.T) {
	ctx := context.Background()
	srv := providertest.NewServer(t)
	user := srv.AddUser("user@example.com", "password123")
	client := newTestClient(t, srv)

	t.Run("invalid credentials", func(t *testing.T) {
		_, err := client.SignInWithPassword(ctx, "user@example.com", "wrong")
		require.Error(t, err)
		assert.True(t, provider.IsAuthError(err))
		assert.Equal(t, "Invalid login credentials", err.Error())
		assert.False(t, provider.IsSessionInvalid(err))
	})

	t.Run("valid credentials", func(t *testing.T) {
		sess, err := client.SignInWithPassword(ctx, "user@example.com", "password123")
		require.NoError(t, err)
		assert.Equal(t, "bearer", sess.TokenType)
		assert.NotEmpty(t, sess.RefreshToken)
		assert.NotZero(t, sess.ExpiresAt)

		claims, err := provider.ParseClaims(sess.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.Subject)
		assert.Equal(t, "user@example.com", claims.Email)

		got, err := client.GetUser(ctx, sess.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		require.NotNil(t, got.LastSignInAt)
	})
}

func TestClient_GetUser_Retries(t *testing.T) {
	ctx := context.Background()
	srv := providertest.NewServer(t)
	srv.AddUser("user@example.com", "password123")
	client := newTestClient(t, srv)

	sess, err := client.SignInWithPassword(ctx, "user@example.com", "password123")
	require.NoError(t, err)

	t.Run("transient failures are retried", func(t *testing.T) {
		srv.FailUserRequests(2)

		user, err := client.GetUser(ctx, sess.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "user@example.com", user.Email)
	})

	t.Run("gives up after max tries", func(t *testing.T) {
		srv.FailUserRequests(5)
		before := srv.Requests("/auth/v1/user")

		_, err := client.GetUser(ctx, sess.AccessToken)
		require.Error(t, err)

		apiErr, ok := provider.AsError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
		assert.Equal(t, 3, srv.Requests("/auth/v1/user")-before)
		srv.FailUserRequests(0)
	})

	t.Run("auth errors are not retried", func(t *testing.T) {
		before := srv.Requests("/auth/v1/user")

		_, err := client.GetUser(ctx, "not-a-token")
		require.Error(t, err)
		assert.True(t, provider.IsSessionInvalid(err))
		assert.Equal(t, 1, srv.Requests("/auth/v1/user")-before)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := client.GetUser(ctx, "")
		require.ErrorIs(t, err, provider.ErrMissingToken)
	})
}

func TestClient_ExchangeCode(t *testing.T) {
	ctx := context.Background()
	srv := providertest.NewServer(t)
	client := newTestClient(t, srv)

	pkce := provider.NewPKCE()

	t.Run("wrong verifier", func(t *testing.T) {
		code := srv.IssueCode(pkce.Challenge)
		_, err := client.ExchangeCode(ctx, code, provider.NewPKCE().Verifier)
		require.Error(t, err)

		apiErr, ok := provider.AsError(err)
		require.True(t, ok)
		assert.Equal(t, "bad_code_verifier", apiErr.Code)
	})

	t.Run("matching verifier", func(t *testing.T) {
		code := srv.IssueCode(pkce.Challenge)
		sess, err := client.ExchangeCode(ctx, code, pkce.Verifier)
		require.NoError(t, err)
		require.NotNil(t, sess.User)
		assert.Equal(t, providertest.OAuthEmail, sess.User.Email)
	})

	t.Run("code is single use", func(t *testing.T) {
		code := srv.IssueCode(pkce.Challenge)
		_, err := client.ExchangeCode(ctx, code, pkce.Verifier)
		require.NoError(t, err)

		_, err = client.ExchangeCode(ctx, code, pkce.Verifier)
		require.Error(t, err)
		assert.True(t, provider.IsAuthError(err))
	})
}

func TestClient_RefreshSession(t *testing.T) {
	ctx := context.Background()
	srv := providertest.NewServer(t)
	srv.AddUser("user@example.com", "password123")
	client := newTestClient(t, srv)

	sess, err := client.SignInWithPassword(ctx, "user@example.com", "password123")
	require.NoError(t, err)

	refreshed, err := client.RefreshSession(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.RefreshToken, refreshed.RefreshToken)

	_, err = client.RefreshSession(ctx, sess.RefreshToken)
	require.Error(t, err)
	assert.True(t, provider.IsSessionInvalid(err))
}

func TestClient_SignOut(t *testing.T) {
	ctx := context.Background()
	srv := providertest.NewServer(t)
	srv.AddUser("user@example.com", "password123")
	client := newTestClient(t, srv)

	sess, err := client.SignInWithPassword(ctx, "user@example.com", "password123")
	require.NoError(t, err)

	require.NoError(t, client.SignOut(ctx, sess.AccessToken))
	assert.Equal(t, 1, srv.SignOutCalls())

	_, err = client.GetUser(ctx, sess.AccessToken)
	require.Error(t, err)
	assert.True(t, provider.IsSessionInvalid(err))

	_, err = client.RefreshSession(ctx, sess.RefreshToken)
	require.Error(t, err)
}

func TestClient_Settings_Cached(t *testing.T) {
	ctx := context.Background()
	srv := providertest.NewServer(t)
	client := newTestClient(t, srv)

	settings, err := client.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.ProviderEnabled("google"))
	assert.False(t, settings.ProviderEnabled("github"))

	_, err = client.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Requests("/auth/v1/settings"))
}

func TestClient_InvalidAPIKey(t *testing.T) {
	srv := providertest.NewServer(t)
	cfg := srv.Config()
	cfg.PublicKey = "wrong"

	client, err := provider.New(cfg)
	require.NoError(t, err)

	_, err = client.SignInWithPassword(context.Background(), "user@example.com", "password123")
	require.Error(t, err)
	assert.Equal(t, "Invalid API key", err.Error())
}

func TestClient_AuthorizeURL(t *testing.T) {
	client, err := provider.New(config.Provider{URL: "https://abcd.supabase.co/", PublicKey: "anon"})
	require.NoError(t, err)

	raw := client.AuthorizeURL("google", "http://localhost:3000/auth/callback", "challenge")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "abcd.supabase.co", u.Host)
	assert.Equal(t, "/auth/v1/authorize", u.Path)
	assert.Equal(t, "google", u.Query().Get("provider"))
	assert.Equal(t, "http://localhost:3000/auth/callback", u.Query().Get("redirect_to"))
	assert.Equal(t, "challenge", u.Query().Get("code_challenge"))
	assert.Equal(t, "s256", u.Query().Get("code_challenge_method"))
}

func TestClient_SettingsRetryBound(t *testing.T) {
	tests := []struct {
		name     string
		maxTries uint
		want     int32
	}{
		{"zero means a single attempt", 0, 1},
		{"single attempt", 1, 1},
		{"three attempts", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"msg":"upstream unavailable"}`))
			}))
			t.Cleanup(upstream.Close)

			client, err := provider.New(
				config.Provider{URL: upstream.URL, PublicKey: "anon", Timeout: 5 * time.Second},
				provider.WithRetry(tt.maxTries, func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
			)
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err = client.Settings(ctx)
			require.Error(t, err)

			apiErr, ok := provider.AsError(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
			assert.Equal(t, tt.want, hits.Load())
		})
	}
}
