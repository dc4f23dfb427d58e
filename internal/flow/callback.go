package flow

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/authdemo/internal/provider"
)

// ExchangeFailedCode is reported when the code exchange failed without a provider code.
const ExchangeFailedCode = "oauth_exchange_failed"

// CodeExchanger is the part of the session client the callback uses.
type CodeExchanger interface {
	ExchangeCodeForSession(ctx context.Context, authCode string) (*provider.Session, error)
}

// CompleteOAuth handles the provider's redirect back to the application. It exchanges
// the code when present and returns where to send the user agent next, which is always
// the welcome page. Failures are carried as an error_code query parameter so the gate
// can explain them instead of silently re-gating.
func CompleteOAuth(ctx context.Context, auth CodeExchanger, params url.Values, opts ...Option) string {
	o := buildOptions(opts)
	log := zerolog.Ctx(ctx)

	code := params.Get("code")
	if code == "" {
		providerErr := params.Get("error")
		if providerErr == "" {
			return WelcomePath
		}

		errorCode := params.Get("error_code")
		if errorCode == "" {
			errorCode = providerErr
		}

		log.Warn().
			Str("error", providerErr).
			Str("error_code", errorCode).
			Str("error_description", params.Get("error_description")).
			Msg("provider returned an error to the callback")

		return welcomeWithError(errorCode)
	}

	sess, err := auth.ExchangeCodeForSession(ctx, code)

	event := Event{Kind: "oauth_exchange"}
	if err == nil && sess != nil && sess.User != nil {
		event.UserID = sess.User.ID
		event.Email = sess.User.Email
	}
	record(ctx, o.recorder, event, err)

	if err != nil {
		errorCode := ExchangeFailedCode
		if apiErr, ok := provider.AsError(err); ok && apiErr.Code != "" {
			errorCode = apiErr.Code
		}
		return welcomeWithError(errorCode)
	}

	return WelcomePath
}

func welcomeWithError(code string) string {
	return WelcomePath + "?" + url.Values{"error_code": {code}}.Encode()
}
