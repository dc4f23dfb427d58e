package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/felixge/httpsnoop"
)

// ErrCookiesReadOnly is returned by SetAll when cookies can no longer be written,
// either because the response has been committed or the jar was opened read-only.
var ErrCookiesReadOnly = errors.New("cookies are read-only in this context")

type contextKey string

const responseStateKey contextKey = "response_state"

// CookieJar is the cookie capability handed to a request scoped session client.
type CookieJar interface {
	// GetAll returns the request cookies merged with any written in this cycle.
	GetAll() []*http.Cookie

	// SetAll writes a batch of cookies to the response.
	SetAll(cookies []*http.Cookie) error

	// Writable reports whether SetAll can currently succeed.
	Writable() bool
}

type responseState struct {
	committed atomic.Bool
}

// Middleware tracks when the response is committed so cookie jars created for the
// request can report they are no longer writable.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := &responseState{}

		ww := httpsnoop.Wrap(w, httpsnoop.Hooks{
			WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
				return func(code int) {
					// informational responses leave the headers open
					if code >= http.StatusOK {
						state.committed.Store(true)
					}
					next(code)
				}
			},
			Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
				return func(b []byte) (int, error) {
					state.committed.Store(true)
					return next(b)
				}
			},
			ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
				return func(src io.Reader) (int64, error) {
					state.committed.Store(true)
					return next(src)
				}
			},
			Flush: func(next httpsnoop.FlushFunc) httpsnoop.FlushFunc {
				return func() {
					state.committed.Store(true)
					next()
				}
			},
		})

		ctx := context.WithValue(r.Context(), responseStateKey, state)
		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

// RequestCookieJar reads cookies from an inbound request and writes them to its response.
type RequestCookieJar struct {
	r     *http.Request
	w     http.ResponseWriter
	state *responseState

	mu      sync.Mutex
	written map[string]*http.Cookie
}

// NewRequestCookieJar creates a jar bound to one request/response cycle. Commit detection
// requires the handler to be wrapped with Middleware.
func NewRequestCookieJar(w http.ResponseWriter, r *http.Request) *RequestCookieJar {
	state, _ := r.Context().Value(responseStateKey).(*responseState)

	return &RequestCookieJar{
		r:       r,
		w:       w,
		state:   state,
		written: make(map[string]*http.Cookie),
	}
}

// NewReadOnlyCookieJar creates a jar which can only read the request cookies.
func NewReadOnlyCookieJar(r *http.Request) *RequestCookieJar {
	return &RequestCookieJar{
		r:       r,
		written: make(map[string]*http.Cookie),
	}
}

func (j *RequestCookieJar) GetAll() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	byName := make(map[string]*http.Cookie)
	for _, c := range j.r.Cookies() {
		byName[c.Name] = c
	}
	for name, c := range j.written {
		if c.MaxAge < 0 {
			delete(byName, name)
			continue
		}
		byName[name] = c
	}

	cookies := make([]*http.Cookie, 0, len(byName))
	for _, c := range byName {
		cookies = append(cookies, c)
	}
	sort.Slice(cookies, func(i, k int) bool {
		return cookies[i].Name < cookies[k].Name
	})

	return cookies
}

func (j *RequestCookieJar) SetAll(cookies []*http.Cookie) error {
	if !j.Writable() {
		return ErrCookiesReadOnly
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if len(cookies) > 0 {
		// responses carrying session cookies must never be cached by intermediaries
		j.w.Header().Set("Cache-Control", "private, no-cache, no-store, must-revalidate, max-age=0")
	}

	for _, c := range cookies {
		http.SetCookie(j.w, c)
		j.written[c.Name] = c
	}

	return nil
}

func (j *RequestCookieJar) Writable() bool {
	if j.w == nil {
		return false
	}
	return j.state == nil || !j.state.committed.Load()
}
