// Package loopback receives an OAuth redirect on a short lived 127.0.0.1 listener so
// command line clients can complete a browser based sign in.
package loopback

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout is how long Wait blocks for the browser to come back.
const DefaultTimeout = 5 * time.Minute

var ErrAlreadyStarted = errors.New("loopback server already started")

//go:embed templates/done.html
var doneHTML string

var doneTemplate = template.Must(template.New("done").Parse(doneHTML))

// Server accepts exactly one request on its callback path and hands the query
// parameters to Wait.
type Server struct {
	port int
	path string

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	origin   string

	once     sync.Once
	resultCh chan url.Values
	errCh    chan error
}

// New prepares a server that will answer on path. A zero port picks a free one.
func New(port int, path string) *Server {
	return &Server{
		port:     port,
		path:     path,
		resultCh: make(chan url.Values, 1),
		errCh:    make(chan error, 1),
	}
}

// Start binds the listener and returns the origin, e.g. http://127.0.0.1:53111. The
// server stops when ctx is done.
func (s *Server) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return "", ErrAlreadyStarted
	}

	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(s.port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.origin = fmt.Sprintf("http://127.0.0.1:%d", s.port)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.path, s.handle)

	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	zerolog.Ctx(ctx).Debug().Str("origin", s.origin).Msg("loopback callback server listening")

	return s.origin, nil
}

// Origin is empty until Start succeeds.
func (s *Server) Origin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origin
}

// Wait returns the callback query parameters, or an error if the server fails or ctx
// ends first.
func (s *Server) Wait(ctx context.Context) (url.Values, error) {
	select {
	case params := <-s.resultCh:
		return params, nil
	case err := <-s.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	handled := false
	s.once.Do(func() {
		handled = true
		s.respond(w, r)
	})

	if !handled {
		http.Error(w, "callback already received", http.StatusConflict)
	}
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	data := map[string]string{
		"Error":       params.Get("error"),
		"Description": params.Get("error_description"),
	}
	if err := doneTemplate.Execute(w, data); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to render loopback response")
	}

	s.resultCh <- params

	// let the response flush before the listener goes away
	go func() {
		time.Sleep(500 * time.Millisecond)
		s.Stop()
	}()
}

// Stop shuts the server down. It is safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
