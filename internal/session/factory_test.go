package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/authdemo/internal/config"
	"github.com/wolfeidau/authdemo/internal/provider"
	"github.com/wolfeidau/authdemo/internal/provider/providertest"
)

func TestNewServerFactory_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Provider
		wantErr error
	}{
		{
			name:    "missing url",
			cfg:     config.Provider{PublicKey: "key"},
			wantErr: config.ErrMissingProviderURL,
		},
		{
			name:    "missing key",
			cfg:     config.Provider{URL: "https://abcd.supabase.co"},
			wantErr: config.ErrMissingPublicKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServerFactory(tt.cfg, nil)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), "invalid identity provider configuration")
		})
	}
}

func TestServerFactory_CookieRoundTrip(t *testing.T) {
	srv := providertest.NewServer(t)
	user := srv.AddUser("user@example.com", "password123")

	factory, err := NewServerFactory(srv.Config(), newTestAPI(t, srv))
	require.NoError(t, err)

	signIn := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := factory.ForRequest(w, r).SignInWithPassword(r.Context(), "user@example.com", "password123")
		require.NoError(t, err)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	signIn.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "private, no-cache, no-store, must-revalidate, max-age=0", rec.Header().Get("Cache-Control"))

	req := httptest.NewRequest(http.MethodGet, "/welcome", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}

	got, err := factory.ForReadOnly(req).GetUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestServerFactory_NoCookies(t *testing.T) {
	srv := providertest.NewServer(t)

	factory, err := NewServerFactory(srv.Config(), newTestAPI(t, srv))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/welcome", nil)
	_, err = factory.ForReadOnly(req).GetUser(req.Context())
	require.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, 0, srv.Requests("/auth/v1/user"))
}

func TestBrowserHandle(t *testing.T) {
	t.Run("concurrent callers share one client", func(t *testing.T) {
		srv := providertest.NewServer(t)
		handle := NewBrowserHandle(srv.Config(), t.TempDir())

		const callers = 16
		clients := make([]*Client, callers)

		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c, err := handle.Client()
				assert.NoError(t, err)
				clients[i] = c
			}()
		}
		wg.Wait()

		for _, c := range clients {
			assert.Same(t, clients[0], c)
		}
	})

	t.Run("session persists across handles", func(t *testing.T) {
		ctx := context.Background()
		srv := providertest.NewServer(t)
		srv.AddUser("user@example.com", "password123")
		dir := t.TempDir()

		first, err := NewBrowserHandle(srv.Config(), dir).Client()
		require.NoError(t, err)
		_, err = first.SignInWithPassword(ctx, "user@example.com", "password123")
		require.NoError(t, err)

		storageDir, err := StorageDir(dir, srv.Config())
		require.NoError(t, err)
		info, err := os.Stat(storageDir)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

		second, err := NewBrowserHandle(srv.Config(), dir).Client()
		require.NoError(t, err)
		user, err := second.GetUser(ctx)
		require.NoError(t, err)
		assert.Equal(t, "user@example.com", user.Email)
	})

	t.Run("construction error is sticky", func(t *testing.T) {
		handle := NewBrowserHandle(config.Provider{URL: "https://abcd.supabase.co"}, t.TempDir())

		_, err := handle.Client()
		require.ErrorIs(t, err, config.ErrMissingPublicKey)

		_, again := handle.Client()
		assert.Same(t, err, again)
	})

	t.Run("uses the supplied api", func(t *testing.T) {
		srv := providertest.NewServer(t)
		api, err := provider.New(srv.Config())
		require.NoError(t, err)

		c, err := NewBrowserHandle(srv.Config(), t.TempDir(), WithBrowserAPI(api)).Client()
		require.NoError(t, err)

		settings, err := c.Settings(context.Background())
		require.NoError(t, err)
		assert.True(t, settings.ProviderEnabled("google"))
	})
}
