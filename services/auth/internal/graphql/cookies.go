package graphql

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// RefreshCookieName is the httpOnly cookie carrying the refresh token.
const RefreshCookieName = "refresh_token"

// CookieConfig controls refresh-token cookie delivery.
type CookieConfig struct {
	Enabled bool
	Secure  bool
	Path    string
}

// cookieJar collects cookies set by resolvers and exposes the refresh
// cookie of the incoming request.
type cookieJar struct {
	mu       sync.Mutex
	incoming string
	out      []*http.Cookie
}

type cookieJarKey struct{}

func withCookieJar(ctx context.Context, jar *cookieJar) context.Context {
	return context.WithValue(ctx, cookieJarKey{}, jar)
}

func cookieJarFrom(ctx context.Context) *cookieJar {
	jar, _ := ctx.Value(cookieJarKey{}).(*cookieJar)
	return jar
}

func newCookieJar(r *http.Request) *cookieJar {
	jar := &cookieJar{}
	if c, err := r.Cookie(RefreshCookieName); err == nil {
		jar.incoming = c.Value
	}
	return jar
}

func (j *cookieJar) add(c *http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.out = append(j.out, c)
}

func (j *cookieJar) writeTo(w http.ResponseWriter) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range j.out {
		http.SetCookie(w, c)
	}
}

func (cfg CookieConfig) refreshCookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     cfg.Path,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (cfg CookieConfig) clearedCookie() *http.Cookie {
	return &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     cfg.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (cfg CookieConfig) setRefresh(ctx context.Context, token string, expiresAt time.Time) {
	if !cfg.Enabled {
		return
	}
	if jar := cookieJarFrom(ctx); jar != nil {
		jar.add(cfg.refreshCookie(token, expiresAt))
	}
}

func (cfg CookieConfig) clearRefresh(ctx context.Context) {
	if !cfg.Enabled {
		return
	}
	if jar := cookieJarFrom(ctx); jar != nil {
		jar.add(cfg.clearedCookie())
	}
}

func (cfg CookieConfig) incomingRefresh(ctx context.Context) string {
	if !cfg.Enabled {
		return ""
	}
	if jar := cookieJarFrom(ctx); jar != nil {
		return jar.incoming
	}
	return ""
}
