package web

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/authdemo/internal/flow"
	"github.com/wolfeidau/authdemo/internal/models"
	"github.com/wolfeidau/authdemo/internal/provider"
	"github.com/wolfeidau/authdemo/internal/session"
)

type passwordPage struct {
	State flow.State
}

type oauthPage struct {
	State   flow.State
	Enabled bool
}

type welcomePage struct {
	Welcome flow.Welcome
	Events  []*models.AuthEvent
}

// errorMessages explains error codes carried back through the gate.
var errorMessages = map[string]string{
	flow.ExchangeFailedCode: "We could not complete your sign in. Please try again.",
	"access_denied":         "Sign in was cancelled.",
	"flow_state_not_found":  "Your sign in link has expired. Please try again.",
	"flow_state_expired":    "Your sign in link has expired. Please try again.",
	"bad_code_verifier":     "Your sign in could not be verified. Please try again.",
}

func errorCodeMessage(code string) string {
	if code == "" {
		return ""
	}
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return "Sign in failed (" + code + "). Please try again."
}

func (s *Site) IndexHandler(w http.ResponseWriter, r *http.Request) {
	s.pages.render(w, r, http.StatusOK, "index", nil)
}

func (s *Site) PasswordPage(w http.ResponseWriter, r *http.Request) {
	mode, err := flow.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		mode = flow.ModeSignIn
	}

	s.pages.render(w, r, http.StatusOK, "password", passwordPage{
		State: flow.State{
			Mode:  mode,
			Error: errorCodeMessage(r.URL.Query().Get("error_code")),
		},
	})
}

func (s *Site) PasswordSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	mode, err := flow.ParseMode(r.PostForm.Get("mode"))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	nav := &redirectNavigator{}
	f := flow.NewPasswordFlow(s.factory.ForRequest(w, r), nav, flow.WithRecorder(s))
	state := f.Submit(r.Context(), mode, r.PostForm.Get("email"), r.PostForm.Get("password"))

	if nav.redirect(w, r, http.StatusSeeOther) {
		return
	}

	s.pages.render(w, r, http.StatusOK, "password", passwordPage{State: state})
}

func (s *Site) OAuthPage(w http.ResponseWriter, r *http.Request) {
	client := s.factory.ForRequest(w, r)

	nav := &redirectNavigator{}
	f := flow.NewOAuthFlow(client, nav)
	if !f.Mount(s.currentUser(r, client)) {
		nav.redirect(w, r, http.StatusFound)
		return
	}

	enabled := true
	settings, err := client.Settings(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to load provider settings")
	} else {
		enabled = settings.ProviderEnabled(oauthProvider)
	}

	s.pages.render(w, r, http.StatusOK, "oauth", oauthPage{Enabled: enabled})
}

func (s *Site) OAuthSubmit(w http.ResponseWriter, r *http.Request) {
	nav := &redirectNavigator{}
	f := flow.NewOAuthFlow(s.factory.ForRequest(w, r), nav, flow.WithRecorder(s))
	state := f.Start(r.Context(), oauthProvider, s.origin(r))

	if nav.redirect(w, r, http.StatusSeeOther) {
		return
	}

	s.pages.render(w, r, http.StatusOK, "oauth", oauthPage{State: state, Enabled: true})
}

// CallbackHandler completes the OAuth exchange. It always answers 302 to the welcome
// page, carrying an error_code when the exchange failed.
func (s *Site) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	target := flow.CompleteOAuth(r.Context(), s.factory.ForRequest(w, r), r.URL.Query(), flow.WithRecorder(s))
	http.Redirect(w, r, target, http.StatusFound)
}

// WelcomeHandler is the gate: visitors without a session go to the password page.
func (s *Site) WelcomeHandler(w http.ResponseWriter, r *http.Request) {
	client := s.factory.ForRequest(w, r)

	user := s.currentUser(r, client)
	if user == nil {
		target := PasswordPath
		if code := r.URL.Query().Get("error_code"); code != "" {
			target += "?" + url.Values{"error_code": {code}}.Encode()
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	events, err := s.events.ListByUser(r.Context(), user.ID, recentEventsLimit)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to list auth events")
	}

	// session cookies may have been refreshed, the page must not be cached
	if w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "private, no-store")
	}
	s.pages.render(w, r, http.StatusOK, "welcome", welcomePage{
		Welcome: flow.NewWelcome(user),
		Events:  events,
	})
}

func (s *Site) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	client := s.factory.ForRequest(w, r)

	var userID, email string
	if sess, err := client.Session(r.Context()); err == nil && sess != nil && sess.User != nil {
		userID, email = sess.User.ID, sess.User.Email
	}

	nav := &redirectNavigator{}
	if err := flow.NewSignOutFlow(client, nav, flow.WithRecorder(s)).Submit(r.Context(), userID, email); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("sign out")
	}

	nav.redirect(w, r, http.StatusSeeOther)
}

// currentUser returns the verified user, or nil when there is none. Errors are logged
// and treated as signed out; gates never surface them.
func (s *Site) currentUser(r *http.Request, client *session.Client) *provider.User {
	user, err := client.GetUser(r.Context())
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to load current user")
		}
		return nil
	}
	return user
}
