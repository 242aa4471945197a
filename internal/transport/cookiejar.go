package transport

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
)

// CookieJarManager wraps a process-wide net/http/cookiejar.Jar. The spec
// (§6.2) treats cookie storage as an external collaborator the host
// application supplies (e.g. to share session cookies across multiple
// TLCP clients, or persist them across process restarts); this is the
// default in-memory implementation.
type CookieJarManager struct {
	jar http.CookieJar
}

// NewCookieJarManager builds an in-memory jar shared by every transport
// that's configured with WithCookieJar.
func NewCookieJarManager() (*CookieJarManager, error) {
	j, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &CookieJarManager{jar: j}, nil
}

// Cookies returns the cookies the jar would send for u.
func (m *CookieJarManager) Cookies(u *url.URL) []*http.Cookie {
	return m.jar.Cookies(u)
}

// SetCookies stores cookies received from u.
func (m *CookieJarManager) SetCookies(u *url.URL, cookies []*http.Cookie) {
	m.jar.SetCookies(u, cookies)
}
