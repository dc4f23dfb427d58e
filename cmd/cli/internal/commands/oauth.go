package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/wolfeidau/authdemo/internal/flow"
	"github.com/wolfeidau/authdemo/internal/loopback"
)

// OAuthCmd signs in through a provider's consent screen, receiving the redirect on a
// local callback server.
type OAuthCmd struct {
	Provider string        `help:"OAuth provider name" default:"google"`
	Port     int           `help:"Loopback callback port, 0 picks a free port" default:"0" env:"AUTHDEMO_CALLBACK_PORT"`
	Timeout  time.Duration `help:"How long to wait for the browser" default:"5m"`
}

func (c *OAuthCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, client, err := globals.client(ctx)
	if err != nil {
		return err
	}

	out := globals.out()

	user, err := currentUser(ctx, client)
	if err != nil {
		return err
	}

	nav := globals.navigator()
	oauth := flow.NewOAuthFlow(client, nav)
	if !oauth.Mount(user) {
		fmt.Fprintln(out, "Already signed in.")
		printWelcome(out, flow.NewWelcome(user))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	callback := loopback.New(c.Port, flow.CallbackPath)
	origin, err := callback.Start(ctx)
	if err != nil {
		return err
	}
	defer callback.Stop()

	state := oauth.Start(ctx, c.Provider, origin)
	if state.Error != "" {
		return errors.New(state.Error)
	}

	fmt.Fprintf(out, "Waiting for the browser on %s ...\n", origin)

	params, err := callback.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s waiting for the browser", c.Timeout)
		}
		return err
	}

	target, err := url.Parse(flow.CompleteOAuth(ctx, client, params))
	if err != nil {
		return err
	}
	if code := target.Query().Get("error_code"); code != "" {
		return fmt.Errorf("sign in failed: %s", code)
	}

	user, err = client.GetUser(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, flow.SignInSuccessMessage)
	printWelcome(out, flow.NewWelcome(user))

	return nil
}
