// Package flow holds the interactive authentication controllers shared by the web
// front end and the CLI. Controllers call the session client and then drive a
// Navigator, never the other way around.
package flow

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/authdemo/internal/provider"
	"github.com/wolfeidau/authdemo/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	WelcomePath  = "/welcome"
	HomePath     = "/"
	CallbackPath = "/auth/callback"

	// GenericErrorMessage replaces anything that is not a provider reported error.
	GenericErrorMessage = "An unexpected error occurred. Please check your environment variables."
)

var ErrBusy = errors.New("a request is already in progress")

// Navigator moves the user agent. Push changes location, Refresh forces server
// rendered state to be fetched again.
type Navigator interface {
	Push(url string)
	Refresh()
}

// Event describes the outcome of one authentication attempt.
type Event struct {
	Kind    string
	Outcome string
	Email   string
	UserID  string
	Detail  string
}

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Recorder receives auth events, for example to persist an audit trail. Implementations
// must not block for long.
type Recorder interface {
	RecordAuth(ctx context.Context, event Event)
}

// RecorderFunc adapts a function to a Recorder.
type RecorderFunc func(ctx context.Context, event Event)

func (f RecorderFunc) RecordAuth(ctx context.Context, event Event) {
	f(ctx, event)
}

type noopRecorder struct{}

func (noopRecorder) RecordAuth(context.Context, Event) {}

// Option configures a flow controller.
type Option func(*options)

type options struct {
	recorder Recorder
}

func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{recorder: noopRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CallbackURL resolves the OAuth callback route against origin.
func CallbackURL(origin string) string {
	for len(origin) > 0 && origin[len(origin)-1] == '/' {
		origin = origin[:len(origin)-1]
	}
	return origin + CallbackPath
}

// UserMessage converts err into text safe to show to the user. Provider rejections are
// shown verbatim, everything else, provider server failures included, gets the generic
// message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrBusy) || errors.Is(err, ErrProviderDisabled) {
		return err.Error()
	}
	if apiErr, ok := provider.AsError(err); ok && apiErr.UserFacing() {
		return apiErr.Error()
	}
	return GenericErrorMessage
}

// outcomeOf classifies err for metrics and audit events.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case provider.IsAuthError(err), errors.Is(err, ErrProviderDisabled):
		return OutcomeFailure
	default:
		return OutcomeError
	}
}

func record(ctx context.Context, rec Recorder, event Event, err error) {
	event.Outcome = outcomeOf(err)
	if err != nil && event.Detail == "" {
		event.Detail = err.Error()
	}

	telemetry.GetMetrics().AuthAttemptsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", event.Kind),
			attribute.String("outcome", event.Outcome),
		))

	logEvent := zerolog.Ctx(ctx).Info()
	if event.Outcome == OutcomeError {
		logEvent = zerolog.Ctx(ctx).Error().Err(err)
	}
	logEvent.Str("kind", event.Kind).Str("outcome", event.Outcome).Str("email", event.Email).Msg("auth attempt")

	rec.RecordAuth(ctx, event)
}
