package goAccount_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestContextFromHTTP(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	r.AddCookie(&http.Cookie{Name: "rt_cookie", Value: "abc"})
	r.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})

	rc := goAccount.RequestContextFromHTTP(r)
	v, ok := rc.Cookie("rt_cookie")
	require.True(t, ok)
	assert.Equal(t, "abc", v)
	_, ok = rc.Cookie("missing")
	assert.False(t, ok)

	_, ok = goAccount.RequestContextFromHTTP(nil).Cookie("rt_cookie")
	assert.False(t, ok)
}

func TestRequestContextWritesLatestCookie(t *testing.T) {
	rc := goAccount.NewRequestContext()
	rc.SetCookie(&http.Cookie{Name: "rt_cookie", Value: "first"})
	rc.SetCookie(&http.Cookie{Name: "other", Value: "x"})
	rc.SetCookie(&http.Cookie{Name: "rt_cookie", Value: "second"})
	rc.SetCookie(nil)

	out := rc.Outgoing()
	require.Len(t, out, 2)
	assert.Equal(t, "second", out[0].Value)

	w := httptest.NewRecorder()
	rc.WriteTo(w)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "rt_cookie", cookies[0].Name)
	assert.Equal(t, "second", cookies[0].Value)
}

func TestLoginCookieReachesResponse(t *testing.T) {
	f := newFixture(t)
	f.activeUser(t, "Ann", "ann@x.com", "pw")

	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	rc := goAccount.RequestContextFromHTTP(r)
	_, err := f.engine.Login(r.Context(), rc, goAccount.Credentials{Email: "ann@x.com", Password: "pw"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	rc.WriteTo(w)
	header := w.Header().Get("Set-Cookie")
	assert.Contains(t, header, "rt_cookie=")
	assert.Contains(t, header, "HttpOnly")
	assert.Contains(t, header, "Secure")
	assert.Contains(t, header, "SameSite=None")
	assert.Contains(t, header, "Max-Age=7200")
}
