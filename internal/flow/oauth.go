package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/authdemo/internal/provider"
)

var ErrProviderDisabled = errors.New("this sign in provider is not enabled")

// OAuthAuthenticator is the part of the session client the OAuth flow uses.
type OAuthAuthenticator interface {
	SignInWithOAuth(ctx context.Context, providerName, redirectTo string) (string, error)
	Settings(ctx context.Context) (*provider.Settings, error)
}

// OAuthFlow starts a social login by sending the user agent to the provider.
type OAuthFlow struct {
	auth OAuthAuthenticator
	nav  Navigator
	opts options

	mu    sync.Mutex
	state State
}

func NewOAuthFlow(auth OAuthAuthenticator, nav Navigator, opts ...Option) *OAuthFlow {
	return &OAuthFlow{
		auth: auth,
		nav:  nav,
		opts: buildOptions(opts),
	}
}

func (f *OAuthFlow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Mount guards the view: when a user is already signed in it navigates to the welcome
// page and returns false, meaning the form must not be shown.
func (f *OAuthFlow) Mount(user *provider.User) bool {
	if user == nil {
		return true
	}
	f.nav.Push(WelcomePath)
	return false
}

// Start requests an authorization URL whose callback is origin's callback route and
// pushes it exactly once. On failure the error is surfaced and loading is reset.
func (f *OAuthFlow) Start(ctx context.Context, providerName, origin string) State {
	f.mu.Lock()
	if f.state.Loading {
		busy := f.state
		busy.Error = UserMessage(ErrBusy)
		f.mu.Unlock()
		return busy
	}
	f.state = State{Loading: true}
	f.mu.Unlock()

	authURL, err := f.authorize(ctx, providerName, origin)
	record(ctx, f.opts.recorder, Event{Kind: "oauth_start", Detail: providerName}, err)

	f.mu.Lock()
	if err != nil {
		f.state.Loading = false
		f.state.Error = UserMessage(err)
		final := f.state
		f.mu.Unlock()
		return final
	}
	// the user agent is leaving, loading stays set until it does
	final := f.state
	f.mu.Unlock()

	f.nav.Push(authURL)
	return final
}

func (f *OAuthFlow) authorize(ctx context.Context, providerName, origin string) (string, error) {
	settings, err := f.auth.Settings(ctx)
	switch {
	case err != nil:
		// the settings lookup is advisory, the authorize endpoint has the final say
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to load provider settings")
	case !settings.ProviderEnabled(providerName):
		return "", fmt.Errorf("%w: %s", ErrProviderDisabled, providerName)
	}

	return f.auth.SignInWithOAuth(ctx, providerName, CallbackURL(origin))
}
