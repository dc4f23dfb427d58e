package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	// MaxChunkSize keeps each cookie comfortably under the 4KiB browser limit once
	// the name and attributes are added.
	MaxChunkSize = 3180

	base64Prefix = "base64-"

	// defaultCookieMaxAge matches the provider client libraries, 400 days.
	defaultCookieMaxAge = 400 * 24 * 60 * 60
)

var ErrMalformedCookie = errors.New("malformed session cookie")

// CookieOptions are the attributes applied to every session cookie.
type CookieOptions struct {
	Path     string
	Domain   string
	MaxAge   int
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// DefaultCookieOptions returns the attributes the provider's browser libraries expect.
// HTTPOnly is off so browser side clients can read the same session.
func DefaultCookieOptions() CookieOptions {
	return CookieOptions{
		Path:     "/",
		MaxAge:   defaultCookieMaxAge,
		SameSite: http.SameSiteLaxMode,
	}
}

// CookieStorage persists items in cookies, splitting values larger than MaxChunkSize
// over numbered cookies named <key>.0, <key>.1 and so on.
type CookieStorage struct {
	jar  CookieJar
	opts CookieOptions
}

func NewCookieStorage(jar CookieJar, opts CookieOptions) *CookieStorage {
	return &CookieStorage{jar: jar, opts: opts}
}

func (s *CookieStorage) GetItem(key string) (string, bool, error) {
	values := make(map[string]string)
	for _, c := range s.jar.GetAll() {
		values[c.Name] = c.Value
	}

	raw, ok := combineChunks(key, values)
	if !ok {
		return "", false, nil
	}

	if !strings.HasPrefix(raw, base64Prefix) {
		return raw, true, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, base64Prefix))
	if err != nil {
		return "", false, fmt.Errorf("%w: %s: %w", ErrMalformedCookie, key, err)
	}

	return string(decoded), true, nil
}

func (s *CookieStorage) SetItem(key, value string) error {
	encoded := base64Prefix + base64.RawURLEncoding.EncodeToString([]byte(value))

	chunks := splitChunks(key, encoded)
	keep := make(map[string]bool, len(chunks))
	batch := make([]*http.Cookie, 0, len(chunks))
	for _, chunk := range chunks {
		keep[chunk.name] = true
		batch = append(batch, s.cookie(chunk.name, chunk.value, s.opts.MaxAge))
	}

	// drop chunks left over from a larger previous value
	for _, name := range s.existing(key) {
		if !keep[name] {
			batch = append(batch, s.cookie(name, "", -1))
		}
	}

	return s.jar.SetAll(batch)
}

func (s *CookieStorage) RemoveItem(key string) error {
	names := s.existing(key)
	if len(names) == 0 {
		return nil
	}

	batch := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		batch = append(batch, s.cookie(name, "", -1))
	}

	return s.jar.SetAll(batch)
}

func (s *CookieStorage) existing(key string) []string {
	var names []string
	for _, c := range s.jar.GetAll() {
		if c.Name == key {
			names = append(names, c.Name)
			continue
		}
		if _, ok := chunkIndex(key, c.Name); ok {
			names = append(names, c.Name)
		}
	}
	return names
}

func (s *CookieStorage) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.opts.Path,
		Domain:   s.opts.Domain,
		MaxAge:   maxAge,
		Secure:   s.opts.Secure,
		HttpOnly: s.opts.HTTPOnly,
		SameSite: s.opts.SameSite,
	}
}

type chunk struct {
	name  string
	value string
}

func splitChunks(key, value string) []chunk {
	if len(value) <= MaxChunkSize {
		return []chunk{{name: key, value: value}}
	}

	var chunks []chunk
	for i := 0; len(value) > 0; i++ {
		n := min(MaxChunkSize, len(value))
		chunks = append(chunks, chunk{name: key + "." + strconv.Itoa(i), value: value[:n]})
		value = value[n:]
	}
	return chunks
}

func combineChunks(key string, values map[string]string) (string, bool) {
	if v, ok := values[key]; ok {
		return v, true
	}

	var sb strings.Builder
	for i := 0; ; i++ {
		v, ok := values[key+"."+strconv.Itoa(i)]
		if !ok {
			return sb.String(), i > 0
		}
		sb.WriteString(v)
	}
}

func chunkIndex(key, name string) (int, bool) {
	suffix, ok := strings.CutPrefix(name, key+".")
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(suffix)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}
