package flow

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// SignOutAuthenticator is the part of the session client the sign out action uses.
type SignOutAuthenticator interface {
	SignOut(ctx context.Context) error
}

// SignOutFlow destroys the session and returns the user agent home.
type SignOutFlow struct {
	auth SignOutAuthenticator
	nav  Navigator
	opts options
}

func NewSignOutFlow(auth SignOutAuthenticator, nav Navigator, opts ...Option) *SignOutFlow {
	return &SignOutFlow{
		auth: auth,
		nav:  nav,
		opts: buildOptions(opts),
	}
}

// Submit signs out and then navigates home with a refresh. The local session is gone
// even when revocation at the provider failed, so navigation always happens; the error
// is returned for logging.
func (f *SignOutFlow) Submit(ctx context.Context, userID, email string) error {
	err := f.auth.SignOut(ctx)
	record(ctx, f.opts.recorder, Event{Kind: "signout", UserID: userID, Email: email}, err)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("sign out did not complete cleanly")
	}

	f.nav.Push(HomePath)
	f.nav.Refresh()

	if err != nil {
		return errors.Join(ErrSignOutIncomplete, err)
	}
	return nil
}

var ErrSignOutIncomplete = errors.New("sign out incomplete")
