package commands

import (
	"context"
	"errors"

	"github.com/wolfeidau/authdemo/internal/flow"
)

// SignupCmd registers a new account.
type SignupCmd struct {
	Email    string `arg:"" help:"Email address for the new account"`
	Password string `help:"Password, prompted for when omitted" env:"AUTHDEMO_PASSWORD"`
}

func (c *SignupCmd) Run(ctx context.Context, globals *Globals) error {
	return runPassword(ctx, globals, flow.ModeSignUp, c.Email, c.Password)
}

// SigninCmd signs in with an existing email and password.
type SigninCmd struct {
	Email    string `arg:"" help:"Email address"`
	Password string `help:"Password, prompted for when omitted" env:"AUTHDEMO_PASSWORD"`
}

func (c *SigninCmd) Run(ctx context.Context, globals *Globals) error {
	return runPassword(ctx, globals, flow.ModeSignIn, c.Email, c.Password)
}

func runPassword(ctx context.Context, globals *Globals, mode flow.Mode, email, password string) error {
	ctx, client, err := globals.client(ctx)
	if err != nil {
		return err
	}

	out := globals.out()

	password, err = readPassword(out, password)
	if err != nil {
		return err
	}

	nav := globals.navigator()
	state := flow.NewPasswordFlow(client, nav).Submit(ctx, mode, email, password)
	if state.Error != "" {
		return errors.New(state.Error)
	}

	printStatus(out, state.Status)

	// sign ups waiting on email confirmation stay put
	if nav.location != flow.WelcomePath {
		return nil
	}

	user, err := client.GetUser(ctx)
	if err != nil {
		return err
	}

	printWelcome(out, flow.NewWelcome(user))

	return nil
}
