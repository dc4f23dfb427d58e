package http

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey string

const requestMetaContextKey contextKey = "request_meta"

// RequestMeta is the caller metadata attached to auth events.
type RequestMeta struct {
	ClientIP  string
	UserAgent string
}

// ExtractClientIP returns the caller's address, preferring the first X-Forwarded-For
// entry, then X-Real-IP, then RemoteAddr. Header values that are not IP addresses are
// skipped, so the result is either a normalized address or empty.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, ok := parseIP(first); ok {
			return ip
		}
	}

	if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return ip
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if ip, ok := parseIP(host); ok {
		return ip
	}
	return ""
}

func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.Trim(strings.TrimSpace(s), "[]"))
	if err != nil {
		return "", false
	}
	return addr.Unmap().WithZone("").String(), true
}

// RequestMetaFromContext returns the metadata stored by ClientIPMiddleware.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaContextKey).(RequestMeta)
	return meta
}

// ContextWithRequestMeta attaches meta to ctx.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaContextKey, meta)
}

// ClientIPMiddleware stores the client IP and user agent in the request context so
// they can be attached to auth events.
func ClientIPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := ContextWithRequestMeta(r.Context(), RequestMeta{
				ClientIP:  ExtractClientIP(r),
				UserAgent: r.UserAgent(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
