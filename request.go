package goAccount

import (
	"net/http"
	"sync"
	"time"
)

// RequestContext carries the cookies of one incoming request and collects
// the cookies the engine wants written on the response. It is safe for
// concurrent use, though a request normally touches it from one goroutine.
type RequestContext struct {
	mu       sync.Mutex
	incoming map[string]string
	outgoing []*http.Cookie
}

// NewRequestContext returns a RequestContext holding cookies.
func NewRequestContext(cookies ...*http.Cookie) *RequestContext {
	rc := &RequestContext{incoming: make(map[string]string, len(cookies))}
	for _, c := range cookies {
		if c != nil {
			rc.incoming[c.Name] = c.Value
		}
	}
	return rc
}

// RequestContextFromHTTP copies the cookies of r.
func RequestContextFromHTTP(r *http.Request) *RequestContext {
	if r == nil {
		return NewRequestContext()
	}
	return NewRequestContext(r.Cookies()...)
}

// Cookie returns the incoming value of name.
func (rc *RequestContext) Cookie(name string) (string, bool) {
	if rc == nil {
		return "", false
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	v, ok := rc.incoming[name]
	return v, ok
}

// SetCookie queues c for the response. A later cookie with the same name
// replaces an earlier one.
func (rc *RequestContext) SetCookie(c *http.Cookie) {
	if rc == nil || c == nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for i, prev := range rc.outgoing {
		if prev.Name == c.Name {
			rc.outgoing[i] = c
			return
		}
	}
	rc.outgoing = append(rc.outgoing, c)
}

// Outgoing returns the queued response cookies.
func (rc *RequestContext) Outgoing() []*http.Cookie {
	if rc == nil {
		return nil
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]*http.Cookie, len(rc.outgoing))
	copy(out, rc.outgoing)
	return out
}

// WriteTo sets the queued cookies on w.
func (rc *RequestContext) WriteTo(w http.ResponseWriter) {
	for _, c := range rc.Outgoing() {
		http.SetCookie(w, c)
	}
}

type cookieJar struct {
	cfg      CookieConfig
	sameSite http.SameSite
}

func newCookieJar(cfg CookieConfig) (cookieJar, error) {
	ss, err := parseSameSite(cfg.SameSite)
	if err != nil {
		return cookieJar{}, err
	}
	return cookieJar{cfg: cfg, sameSite: ss}, nil
}

func (j cookieJar) refresh(value string, expires time.Time, now time.Time) *http.Cookie {
	maxAge := int(expires.Sub(now) / time.Second)
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     j.cfg.Name,
		Value:    value,
		Path:     j.cfg.Path,
		Domain:   j.cfg.Domain,
		Expires:  expires,
		MaxAge:   maxAge,
		Secure:   j.cfg.Secure,
		HttpOnly: j.cfg.HTTPOnly,
		SameSite: j.sameSite,
	}
}

func (j cookieJar) clear() *http.Cookie {
	return &http.Cookie{
		Name:     j.cfg.Name,
		Value:    "",
		Path:     j.cfg.Path,
		Domain:   j.cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   j.cfg.Secure,
		HttpOnly: j.cfg.HTTPOnly,
		SameSite: j.sameSite,
	}
}
