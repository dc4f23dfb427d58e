package flow

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/authdemo/internal/provider/providertest"
)

func TestCompleteOAuth(t *testing.T) {
	ctx := context.Background()
	srv := providertest.NewServer(t)

	t.Run("valid code signs in", func(t *testing.T) {
		client := newSessionClient(t, srv)
		authURL, err := client.SignInWithOAuth(ctx, "google", "http://localhost/auth/callback")
		require.NoError(t, err)

		u, err := url.Parse(authURL)
		require.NoError(t, err)
		code := srv.IssueCode(u.Query().Get("code_challenge"))

		events := &eventLog{}
		target := CompleteOAuth(ctx, client, url.Values{"code": {code}}, WithRecorder(events))
		assert.Equal(t, WelcomePath, target)

		user, err := client.GetUser(ctx)
		require.NoError(t, err)
		assert.Equal(t, providertest.OAuthEmail, user.Email)

		require.Len(t, events.events, 1)
		assert.Equal(t, "oauth_exchange", events.events[0].Kind)
		assert.Equal(t, OutcomeSuccess, events.events[0].Outcome)
	})

	tests := []struct {
		name   string
		params url.Values
		want   string
	}{
		{
			name:   "no code",
			params: url.Values{},
			want:   "/welcome",
		},
		{
			name:   "unknown code",
			params: url.Values{"code": {"not-issued"}},
			want:   "/welcome?error_code=flow_state_not_found",
		},
		{
			name:   "provider error",
			params: url.Values{"error": {"access_denied"}, "error_description": {"user cancelled"}},
			want:   "/welcome?error_code=access_denied",
		},
		{
			name:   "provider error with code",
			params: url.Values{"error": {"server_error"}, "error_code": {"bad_oauth_state"}},
			want:   "/welcome?error_code=bad_oauth_state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newSessionClient(t, srv)
			if tt.params.Has("code") {
				// a verifier must exist for the exchange to reach the provider
				_, err := client.SignInWithOAuth(ctx, "google", "http://localhost/auth/callback")
				require.NoError(t, err)
			}

			assert.Equal(t, tt.want, CompleteOAuth(ctx, client, tt.params))
		})
	}

	t.Run("missing verifier", func(t *testing.T) {
		client := newSessionClient(t, srv)
		assert.Equal(t, "/welcome?error_code=oauth_exchange_failed", CompleteOAuth(ctx, client, url.Values{"code": {"abc"}}))
	})
}
