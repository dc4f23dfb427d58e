package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/authdemo/internal/flow"
	"github.com/wolfeidau/authdemo/internal/provider"
	"github.com/wolfeidau/authdemo/internal/session"
)

// WhoamiCmd shows the signed in user, refreshing the session if needed.
type WhoamiCmd struct{}

func (c *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, client, err := globals.client(ctx)
	if err != nil {
		return err
	}

	user, err := currentUser(ctx, client)
	if err != nil {
		return err
	}

	out := globals.out()
	if user == nil {
		fmt.Fprintln(out, "Not signed in.")
		return nil
	}

	printWelcome(out, flow.NewWelcome(user))
	return nil
}

// SignoutCmd revokes the session and clears local storage.
type SignoutCmd struct{}

func (c *SignoutCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, client, err := globals.client(ctx)
	if err != nil {
		return err
	}

	var userID, email string
	if sess, err := client.Session(ctx); err == nil && sess != nil && sess.User != nil {
		userID, email = sess.User.ID, sess.User.Email
	}

	out := globals.out()
	if err := flow.NewSignOutFlow(client, globals.navigator()).Submit(ctx, userID, email); err != nil {
		return err
	}

	fmt.Fprintln(out, "Signed out.")
	return nil
}

// currentUser returns nil without error when nobody is signed in.
func currentUser(ctx context.Context, client *session.Client) (*provider.User, error) {
	user, err := client.GetUser(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return nil, nil
	}
	return user, err
}
