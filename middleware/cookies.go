package middleware

import (
	"context"
	"net/http"
	"sync"

	goAccount "github.com/MrEthical07/goAccount"
)

type requestContextKey struct{}

// RequestContextFrom returns the RequestContext attached by Cookies, or a
// fresh one built from r when the middleware is not installed.
func RequestContextFrom(r *http.Request) *goAccount.RequestContext {
	if rc, ok := r.Context().Value(requestContextKey{}).(*goAccount.RequestContext); ok {
		return rc
	}
	return goAccount.RequestContextFromHTTP(r)
}

// Cookies attaches a RequestContext to every request and flushes its queued
// cookies on the first write of the response.
func Cookies(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := goAccount.RequestContextFromHTTP(r)
		cw := &cookieWriter{ResponseWriter: w, rc: rc}
		ctx := context.WithValue(r.Context(), requestContextKey{}, rc)
		next.ServeHTTP(cw, r.WithContext(ctx))
		cw.flush()
	})
}

type cookieWriter struct {
	http.ResponseWriter
	rc   *goAccount.RequestContext
	once sync.Once
}

func (w *cookieWriter) flush() {
	w.once.Do(func() { w.rc.WriteTo(w.ResponseWriter) })
}

func (w *cookieWriter) WriteHeader(status int) {
	w.flush()
	w.ResponseWriter.WriteHeader(status)
}

func (w *cookieWriter) Write(b []byte) (int, error) {
	w.flush()
	return w.ResponseWriter.Write(b)
}

func (w *cookieWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
