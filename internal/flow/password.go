package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/wolfeidau/authdemo/internal/provider"
)

const (
	SignUpSuccessMessage = "Sign up successful! Please check your email to verify your account."
	SignInSuccessMessage = "Sign in successful!"
)

// Mode selects between creating an account and signing in to one.
type Mode string

const (
	ModeSignIn Mode = "signin"
	ModeSignUp Mode = "signup"
)

// ParseMode accepts the form value of a mode toggle. Empty means sign in.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSignIn, "":
		return ModeSignIn, nil
	case ModeSignUp:
		return ModeSignUp, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// State is what a view renders. Password is deliberately absent.
type State struct {
	Mode    Mode
	Email   string
	Status  string
	Error   string
	Loading bool
}

// PasswordAuthenticator is the part of the session client the password flow uses.
type PasswordAuthenticator interface {
	SignUp(ctx context.Context, email, password string) (*provider.AuthResponse, error)
	SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error)
}

// PasswordFlow drives the email and password form.
type PasswordFlow struct {
	auth PasswordAuthenticator
	nav  Navigator
	opts options

	mu    sync.Mutex
	state State
}

func NewPasswordFlow(auth PasswordAuthenticator, nav Navigator, opts ...Option) *PasswordFlow {
	return &PasswordFlow{
		auth:  auth,
		nav:   nav,
		opts:  buildOptions(opts),
		state: State{Mode: ModeSignIn},
	}
}

// State returns a snapshot of the current view state.
func (f *PasswordFlow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetMode toggles between sign in and sign up, clearing any previous outcome.
func (f *PasswordFlow) SetMode(mode Mode) State {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.state.Loading {
		f.state.Mode = mode
		f.state.Status = ""
		f.state.Error = ""
	}
	return f.state
}

// Submit runs one sign up or sign in. Navigation happens only after the provider call
// has returned, and only for a successful sign in.
func (f *PasswordFlow) Submit(ctx context.Context, mode Mode, email, password string) State {
	f.mu.Lock()
	if f.state.Loading {
		busy := f.state
		busy.Error = UserMessage(ErrBusy)
		f.mu.Unlock()
		return busy
	}
	f.state = State{Mode: mode, Email: email, Loading: true}
	f.mu.Unlock()

	status, err := f.run(ctx, mode, email, password)

	f.mu.Lock()
	f.state.Loading = false
	if err != nil {
		f.state.Error = UserMessage(err)
	} else {
		f.state.Status = status
	}
	final := f.state
	f.mu.Unlock()

	if err == nil && mode == ModeSignIn {
		f.nav.Push(WelcomePath)
		f.nav.Refresh()
	}

	return final
}

func (f *PasswordFlow) run(ctx context.Context, mode Mode, email, password string) (status string, err error) {
	// a panic in a collaborator must not leave the form stuck in loading
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", mode, r)
		}
	}()

	switch mode {
	case ModeSignUp:
		resp, err := f.auth.SignUp(ctx, email, password)
		event := Event{Kind: "signup", Email: email}
		if err == nil && resp != nil && resp.User != nil {
			event.UserID = resp.User.ID
		}
		record(ctx, f.opts.recorder, event, err)
		if err != nil {
			return "", err
		}
		return SignUpSuccessMessage, nil

	case ModeSignIn:
		sess, err := f.auth.SignInWithPassword(ctx, email, password)
		event := Event{Kind: "signin", Email: email}
		if err == nil && sess != nil && sess.User != nil {
			event.UserID = sess.User.ID
		}
		record(ctx, f.opts.recorder, event, err)
		if err != nil {
			return "", err
		}
		return SignInSuccessMessage, nil
	}

	return "", fmt.Errorf("unknown mode %q", mode)
}
