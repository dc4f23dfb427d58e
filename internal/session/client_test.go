package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/authdemo/internal/provider"
	"github.com/wolfeidau/authdemo/internal/provider/providertest"
	"golang.org/x/oauth2"
)

// memoryStorage is a Storage backed by a map.
type memoryStorage struct {
	mu    sync.Mutex
	items map[string]string
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{items: make(map[string]string)}
}

func (m *memoryStorage) GetItem(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *memoryStorage) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *memoryStorage) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStorage) has(key string) bool {
	_, ok, _ := m.GetItem(key)
	return ok
}

func newTestAPI(t *testing.T, srv *providertest.Server) *provider.Client {
	t.Helper()

	api, err := provider.New(srv.Config(), provider.WithRetry(1, func() backoff.BackOff {
		return &backoff.ZeroBackOff{}
	}))
	require.NoError(t, err)
	return api
}

func TestClient_SignInWithPassword(t *testing.T) {
	ctx := context.Background()
	srv := providertest.NewServer(t)
	user := srv.AddUser("user@example.com", "password123")
	storage := newMemoryStorage()
	client := NewClient(newTestAPI(t, srv), storage, testKey)

	t.Run("invalid credentials store nothing", func(t *testing.T) {
		_, err := client.SignInWithPassword(ctx, "user@example.com", "nope")
		require.Error(t, err)
		assert.True(t, provider.IsAuthError(err))
		assert.False(t, storage.has(testKey))

		_, err = client.GetUser(ctx)
		require.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("valid credentials store the session", func(t *testing.T) {
		sess, err := client.SignInWithPassword(ctx, "user@example.com", "password123")
		require.NoError(t, err)
		assert.True(t, storage.has(testKey))

		current, err := client.Session(ctx)
		require.NoError(t, err)
		assert.Equal(t, sess.AccessToken, current.AccessToken)

		got, err := client.GetUser(ctx)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("new sign in supersedes the previous session", func(t *testing.T) {
		first, err := client.Session(ctx)
		require.NoError(t, err)

		second, err := client.SignInWithPassword(ctx, "user@example.com", "password123")
		require.NoError(t, err)

		current, err := client.Session(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.AccessToken, current.AccessToken)
		assert.NotEqual(t, first.AccessToken, current.AccessToken)
	})
}

func TestClient_SignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("pending confirmation stores nothing", func(t *testing.T) {
		srv := providertest.NewServer(t)
		storage := newMemoryStorage()
		client := NewClient(newTestAPI(t, srv), storage, testKey)

		resp, err := client.SignUp(ctx, "new@example.com", "password123")
		require.NoError(t, err)
		assert.Nil(t, resp.Session)
		assert.False(t, storage.has(testKey))
	})

	t.Run("auto confirm stores the session", func(t *testing.T) {
		srv := providertest.NewServer(t)
		srv.AutoConfirm = true
		storage := newMemoryStorage()
		client := NewClient(newTestAPI(t, srv), storage, testKey)

		resp, err := client.SignUp(ctx, "new@example.com", "password123")
		require.NoError(t, err)
		require.NotNil(t, resp.Session)
		assert.True(t, storage.has(testKey))
	})
}

func TestClient_OAuth(t *testing.T) {
	ctx := context.Background()
	srv := providertest.NewServer(t)
	storage := newMemoryStorage()
	client := NewClient(newTestAPI(t, srv), storage, testKey)

	t.Run("exchange without a verifier", func(t *testing.T) {
		_, err := client.ExchangeCodeForSession(ctx, "some-code")
		require.ErrorIs(t, err, ErrMissingCodeVerifier)
	})

	t.Run("round trip", func(t *testing.T) {
		authURL, err := client.SignInWithOAuth(ctx, "google", "http://localhost:3000/auth/callback")
		require.NoError(t, err)

		verifier, ok, err := storage.GetItem(testKey + codeVerifierSuffix)
		require.NoError(t, err)
		require.True(t, ok)

		u, err := url.Parse(authURL)
		require.NoError(t, err)
		challenge := u.Query().Get("code_challenge")
		assert.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), challenge)
		assert.Equal(t, "http://localhost:3000/auth/callback", u.Query().Get("redirect_to"))

		sess, err := client.ExchangeCodeForSession(ctx, srv.IssueCode(challenge))
		require.NoError(t, err)
		assert.Equal(t, providertest.OAuthEmail, sess.User.Email)
		assert.False(t, storage.has(testKey+codeVerifierSuffix))

		user, err := client.GetUser(ctx)
		require.NoError(t, err)
		assert.Equal(t, providertest.OAuthEmail, user.Email)
	})

	t.Run("rejected code keeps the verifier", func(t *testing.T) {
		_, err := client.SignInWithOAuth(ctx, "google", "http://localhost:3000/auth/callback")
		require.NoError(t, err)

		_, err = client.ExchangeCodeForSession(ctx, "unknown-code")
		require.Error(t, err)
		assert.True(t, provider.IsAuthError(err))
		assert.True(t, storage.has(testKey+codeVerifierSuffix))
	})
}

func TestClient_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("expiring session is refreshed and stored", func(t *testing.T) {
		srv := providertest.NewServer(t)
		srv.TokenTTL = 30 * time.Second
		srv.AddUser("user@example.com", "password123")
		client := NewClient(newTestAPI(t, srv), newMemoryStorage(), testKey)

		sess, err := client.SignInWithPassword(ctx, "user@example.com", "password123")
		require.NoError(t, err)

		current, err := client.Session(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, sess.RefreshToken, current.RefreshToken)
	})

	t.Run("rejected refresh clears the session", func(t *testing.T) {
		srv := providertest.NewServer(t)
		srv.AddUser("user@example.com", "password123")
		api := newTestAPI(t, srv)
		storage := newMemoryStorage()

		now := time.Now()
		client := NewClient(api, storage, testKey, WithClock(func() time.Time { return now }))

		sess, err := client.SignInWithPassword(ctx, "user@example.com", "password123")
		require.NoError(t, err)

		// revoked elsewhere, then the access token lapses
		require.NoError(t, api.SignOut(ctx, sess.AccessToken))
		now = now.Add(2 * time.Hour)

		current, err := client.Session(ctx)
		require.NoError(t, err)
		assert.Nil(t, current)
		assert.False(t, storage.has(testKey))
	})
}

func TestClient_GetUser_RevokedSession(t *testing.T) {
	ctx := context.Background()
	srv := providertest.NewServer(t)
	srv.AddUser("user@example.com", "password123")
	api := newTestAPI(t, srv)
	storage := newMemoryStorage()
	client := NewClient(api, storage, testKey)

	sess, err := client.SignInWithPassword(ctx, "user@example.com", "password123")
	require.NoError(t, err)
	require.NoError(t, api.SignOut(ctx, sess.AccessToken))

	_, err = client.GetUser(ctx)
	require.ErrorIs(t, err, ErrNoSession)
	assert.False(t, storage.has(testKey))
}

func TestClient_SignOut(t *testing.T) {
	ctx := context.Background()
	srv := providertest.NewServer(t)
	srv.AddUser("user@example.com", "password123")
	api := newTestAPI(t, srv)

	t.Run("revokes and clears", func(t *testing.T) {
		storage := newMemoryStorage()
		client := NewClient(api, storage, testKey)

		_, err := client.SignInWithPassword(ctx, "user@example.com", "password123")
		require.NoError(t, err)

		require.NoError(t, client.SignOut(ctx))
		assert.False(t, storage.has(testKey))
		assert.Equal(t, 1, srv.SignOutCalls())

		_, err = client.GetUser(ctx)
		require.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("already revoked session still clears", func(t *testing.T) {
		storage := newMemoryStorage()
		client := NewClient(api, storage, testKey)

		sess, err := client.SignInWithPassword(ctx, "user@example.com", "password123")
		require.NoError(t, err)
		require.NoError(t, api.SignOut(ctx, sess.AccessToken))

		require.NoError(t, client.SignOut(ctx))
		assert.False(t, storage.has(testKey))
	})

	t.Run("no session is a no-op", func(t *testing.T) {
		client := NewClient(api, newMemoryStorage(), testKey)
		require.NoError(t, client.SignOut(ctx))
	})
}

func TestClient_UnreadableSessionIsDiscarded(t *testing.T) {
	storage := newMemoryStorage()
	require.NoError(t, storage.SetItem(testKey, "{not json"))

	srv := providertest.NewServer(t)
	client := NewClient(newTestAPI(t, srv), storage, testKey)

	sess, err := client.Session(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.False(t, storage.has(testKey))
}

func TestClient_ReadOnlyCookiesDoNotFailSignIn(t *testing.T) {
	srv := providertest.NewServer(t)
	srv.AddUser("user@example.com", "password123")

	factory, err := NewServerFactory(srv.Config(), newTestAPI(t, srv))
	require.NoError(t, err)

	var signInErr error
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, signInErr = factory.ForRequest(w, r).SignInWithPassword(r.Context(), "user@example.com", "password123")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NoError(t, signInErr)
	assert.Empty(t, rec.Result().Cookies())
}
