package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	ErrMissingProviderURL = errors.New("identity provider URL is not configured (AUTHDEMO_PROVIDER_URL)")
	ErrMissingPublicKey   = errors.New("identity provider public key is not configured (AUTHDEMO_PROVIDER_KEY)")
	ErrInvalidProviderURL = errors.New("identity provider URL is invalid")
)

// Provider holds the connection settings shared by every session client.
type Provider struct {
	// URL is the base URL of the identity provider, e.g. https://abcd.supabase.co
	URL string `env:"AUTHDEMO_PROVIDER_URL"`

	// PublicKey is the anonymous/public API key sent with every request.
	PublicKey string `env:"AUTHDEMO_PROVIDER_KEY"`

	// Timeout bounds every provider request.
	Timeout time.Duration `env:"AUTHDEMO_PROVIDER_TIMEOUT" envDefault:"10s"`
}

// Load reads the provider settings from the process environment and validates them.
func Load() (Provider, error) {
	return load(env.Options{})
}

// LoadFrom reads the provider settings from the supplied environment map instead of the process environment.
func LoadFrom(environ map[string]string) (Provider, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (Provider, error) {
	var cfg Provider
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Provider{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Provider{}, err
	}

	return cfg, nil
}

// Validate checks both required settings are present and the URL is usable.
func (p Provider) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return ErrMissingProviderURL
	}
	if strings.TrimSpace(p.PublicKey) == "" {
		return ErrMissingPublicKey
	}

	u, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProviderURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidProviderURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidProviderURL)
	}

	return nil
}

// ProjectRef is the first label of the provider hostname, used to namespace storage keys.
func (p Provider) ProjectRef() string {
	u, err := url.Parse(p.URL)
	if err != nil {
		return ""
	}
	ref, _, _ := strings.Cut(u.Hostname(), ".")
	return ref
}

// StorageKey is the name under which the session is persisted, e.g. sb-abcd-auth-token.
func (p Provider) StorageKey() string {
	return "sb-" + p.ProjectRef() + "-auth-token"
}
