package commands

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/authdemo/internal/flow"
	"github.com/wolfeidau/authdemo/internal/loopback"
	"github.com/wolfeidau/authdemo/internal/session"
	"golang.org/x/term"
)

type Globals struct {
	Debug   bool
	Version string
	Session *session.BrowserHandle
	Logger  zerolog.Logger

	// Out defaults to stdout.
	Out io.Writer

	// Open launches a URL, defaults to the system browser.
	Open func(string) error
}

func (g *Globals) client(ctx context.Context) (context.Context, *session.Client, error) {
	client, err := g.Session.Client()
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to open local session: %w", err)
	}
	return g.Logger.WithContext(ctx), client, nil
}

func (g *Globals) out() io.Writer {
	if g.Out != nil {
		return g.Out
	}
	return os.Stdout
}

// terminalNavigator prints where a flow wants to go and hands absolute URLs to the
// system browser.
type terminalNavigator struct {
	out      io.Writer
	open     func(string) error
	location string
}

func (g *Globals) navigator() *terminalNavigator {
	open := g.Open
	if open == nil {
		open = loopback.OpenBrowser
	}
	return &terminalNavigator{out: g.out(), open: open}
}

func (n *terminalNavigator) Push(target string) {
	n.location = target

	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() {
		return
	}

	fmt.Fprintln(n.out, "Opening your browser to continue signing in.")
	if err := n.open(target); err != nil {
		fmt.Fprintf(n.out, "Could not open a browser, visit this URL instead:\n\n  %s\n\n", target)
	}
}

// Refresh is a no-op, the terminal holds no rendered state.
func (n *terminalNavigator) Refresh() {}

func printWelcome(out io.Writer, w flow.Welcome) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "User ID:\t%s\n", w.ShortID)
	fmt.Fprintf(tw, "Email:\t%s\n", w.Email)
	fmt.Fprintf(tw, "Last sign in:\t%s\n", w.LastSignIn)
	if len(w.Providers) > 0 {
		fmt.Fprintf(tw, "Providers:\t%s\n", strings.Join(w.Providers, ", "))
	}
	_ = tw.Flush()
}

func printStatus(out io.Writer, status string) {
	if status != "" {
		fmt.Fprintln(out, status)
	}
}

// readPassword prefers the flag value, then prompts without echo when stdin is a
// terminal.
func readPassword(out io.Writer, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("password is required (--password or AUTHDEMO_PASSWORD)")
	}

	fmt.Fprint(out, "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	return string(b), nil
}
