package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/authdemo/cmd/cli/internal/commands"
	"github.com/wolfeidau/authdemo/internal/config"
	"github.com/wolfeidau/authdemo/internal/logger"
	"github.com/wolfeidau/authdemo/internal/session"
)

var (
	version = "dev"
	cli     struct {
		Signup  commands.SignupCmd  `cmd:"" help:"Create an account with email and password"`
		Signin  commands.SigninCmd  `cmd:"" help:"Sign in with email and password"`
		OAuth   commands.OAuthCmd   `cmd:"" name:"oauth" help:"Sign in with an OAuth provider in the browser"`
		Whoami  commands.WhoamiCmd  `cmd:"" help:"Show the signed in user"`
		Signout commands.SignoutCmd `cmd:"" help:"Sign out and forget the local session"`
		Debug   bool                `help:"Enable debug mode."`
		Home    string              `help:"Directory holding local sessions (default: ~/.authdemo)" env:"AUTHDEMO_HOME"`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("authdemo"),
		kong.Description("Command line client for the authentication demo."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))

	log := logger.Setup(cli.Debug)

	cfg, err := config.Load()
	cmd.FatalIfErrorf(err)

	err = cmd.Run(&commands.Globals{
		Debug:   cli.Debug,
		Version: version,
		Session: session.NewBrowserHandle(cfg, cli.Home),
		Logger:  log,
	})
	cmd.FatalIfErrorf(err)
}
