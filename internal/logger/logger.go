package logger

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Setup builds the process logger and makes it the fallback for zerolog.Ctx, so code
// holding a context without a logger still logs somewhere useful.
func Setup(dev bool) zerolog.Logger {
	logger := New(os.Stderr, dev)
	zerolog.DefaultContextLogger = &logger
	return logger
}

func New(out io.Writer, dev bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// HTTPRequests attaches logger to every request context and writes one access log
// line per request.
func HTTPRequests(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			event := hlog.FromRequest(r).Info()
			if status >= http.StatusInternalServerError {
				event = hlog.FromRequest(r).Error()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("http request")
		})(next)

		h = hlog.UserAgentHandler("user_agent")(h)
		h = hlog.RemoteAddrHandler("remote_addr")(h)
		h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)

		return hlog.NewHandler(logger)(h)
	}
}
