package session

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authdemo/internal/config"
	"github.com/wolfeidau/authdemo/internal/provider"
)

// ServerFactory builds request scoped clients backed by the request's cookies.
type ServerFactory struct {
	api        Authenticator
	storageKey string
	cookieOpts CookieOptions
	clientOpts []ClientOption
}

type FactoryOption func(*ServerFactory)

func WithCookieOptions(opts CookieOptions) FactoryOption {
	return func(f *ServerFactory) {
		f.cookieOpts = opts
	}
}

func WithClientOptions(opts ...ClientOption) FactoryOption {
	return func(f *ServerFactory) {
		f.clientOpts = append(f.clientOpts, opts...)
	}
}

// NewServerFactory validates the provider settings once, so request handling never
// has to.
func NewServerFactory(cfg config.Provider, api Authenticator, opts ...FactoryOption) (*ServerFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid identity provider configuration: %w", err)
	}

	f := &ServerFactory{
		api:        api,
		storageKey: cfg.StorageKey(),
		cookieOpts: DefaultCookieOptions(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// ForRequest returns a client that reads the request cookies and writes session
// changes to the response.
func (f *ServerFactory) ForRequest(w http.ResponseWriter, r *http.Request) *Client {
	return f.forJar(NewRequestCookieJar(w, r))
}

// ForReadOnly returns a client for contexts that must not touch the response. Session
// writes, such as a refresh, are logged and dropped.
func (f *ServerFactory) ForReadOnly(r *http.Request) *Client {
	return f.forJar(NewReadOnlyCookieJar(r))
}

// StorageKey is the base cookie name holding the session.
func (f *ServerFactory) StorageKey() string {
	return f.storageKey
}

func (f *ServerFactory) forJar(jar CookieJar) *Client {
	return NewClient(f.api, NewCookieStorage(jar, f.cookieOpts), f.storageKey, f.clientOpts...)
}

// BrowserHandle lazily builds the single long lived client used by interactive
// sessions, backed by persistent local storage. It is safe for concurrent use and
// every caller gets the same client.
type BrowserHandle struct {
	cfg        config.Provider
	baseDir    string
	api        Authenticator
	clientOpts []ClientOption

	once   sync.Once
	client *Client
	err    error
}

type BrowserOption func(*BrowserHandle)

// WithBrowserAPI replaces the provider client the handle would otherwise create.
func WithBrowserAPI(api Authenticator) BrowserOption {
	return func(h *BrowserHandle) {
		h.api = api
	}
}

func WithBrowserClientOptions(opts ...ClientOption) BrowserOption {
	return func(h *BrowserHandle) {
		h.clientOpts = append(h.clientOpts, opts...)
	}
}

// NewBrowserHandle prepares a handle; nothing is created until Client is called.
// An empty baseDir uses ~/.authdemo.
func NewBrowserHandle(cfg config.Provider, baseDir string, opts ...BrowserOption) *BrowserHandle {
	h := &BrowserHandle{
		cfg:     cfg,
		baseDir: baseDir,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Client returns the shared client, constructing it on first use. A construction
// error is sticky.
func (h *BrowserHandle) Client() (*Client, error) {
	h.once.Do(func() {
		h.client, h.err = h.build()
	})
	return h.client, h.err
}

func (h *BrowserHandle) build() (*Client, error) {
	if err := h.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid identity provider configuration: %w", err)
	}

	api := h.api
	if api == nil {
		pc, err := provider.New(h.cfg)
		if err != nil {
			return nil, err
		}
		api = pc
	}

	dir, err := StorageDir(h.baseDir, h.cfg)
	if err != nil {
		return nil, err
	}

	storage, err := NewFileStorage(dir)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("dir", dir).Str("key", h.cfg.StorageKey()).Msg("browser session client created")

	return NewClient(api, storage, h.cfg.StorageKey(), h.clientOpts...), nil
}
