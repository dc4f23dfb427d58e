package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestCookieJar_CommitDetection(t *testing.T) {
	var before, after bool
	var setErr error

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jar := NewRequestCookieJar(w, r)
		before = jar.Writable()

		w.WriteHeader(http.StatusOK)

		after = jar.Writable()
		setErr = jar.SetAll([]*http.Cookie{{Name: "late", Value: "1"}})
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, before)
	assert.False(t, after)
	require.ErrorIs(t, setErr, ErrCookiesReadOnly)
	assert.Empty(t, rec.Result().Cookies())
}

func TestRequestCookieJar_InformationalResponseKeepsHeadersOpen(t *testing.T) {
	var writable bool

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusEarlyHints)
		writable = NewRequestCookieJar(w, r).Writable()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, writable)
}

func TestRequestCookieJar_ReadOnly(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "a", Value: "1"})

	jar := NewReadOnlyCookieJar(req)
	assert.False(t, jar.Writable())
	require.ErrorIs(t, jar.SetAll([]*http.Cookie{{Name: "b", Value: "2"}}), ErrCookiesReadOnly)

	cookies := jar.GetAll()
	require.Len(t, cookies, 1)
	assert.Equal(t, "a", cookies[0].Name)
}

func TestRequestCookieJar_GetAllMergesWrites(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "keep", Value: "1"})
	req.AddCookie(&http.Cookie{Name: "gone", Value: "2"})
	req.AddCookie(&http.Cookie{Name: "changed", Value: "old"})

	jar := NewRequestCookieJar(httptest.NewRecorder(), req)
	require.NoError(t, jar.SetAll([]*http.Cookie{
		{Name: "gone", MaxAge: -1},
		{Name: "changed", Value: "new"},
		{Name: "added", Value: "3"},
	}))

	got := make(map[string]string)
	for _, c := range jar.GetAll() {
		got[c.Name] = c.Value
	}

	assert.Equal(t, map[string]string{"added": "3", "changed": "new", "keep": "1"}, got)
}
