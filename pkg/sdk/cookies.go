package sdk

import (
	"net/http"
	"strings"
)

const (
	// SessionCookieName is the cookie carrying the GPGAuth session id.
	SessionCookieName = "passbolt_session"
	// CSRFCookieName is the cookie the server issues the anti-forgery token in.
	CSRFCookieName = "csrfToken"
)

// Cookies maps cookie names to values, parsed once from a response's Set-Cookie headers.
type Cookies map[string]string

// ParseSetCookies parses every Set-Cookie header in h. Later cookies with the same
// name win; cookies with an empty value are ignored.
func ParseSetCookies(h http.Header) Cookies {
	resp := http.Response{Header: h}
	cookies := make(Cookies)
	for _, c := range resp.Cookies() {
		if c.Value == "" {
			continue
		}
		cookies[c.Name] = c.Value
	}
	return cookies
}

// Get returns the named cookie value.
func (c Cookies) Get(name string) (string, bool) {
	v, ok := c[name]
	return v, ok
}

// cookieHeader renders name/value pairs as a Cookie request header, skipping empty values.
func cookieHeader(pairs ...[2]string) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		parts = append(parts, p[0]+"="+p[1])
	}
	return strings.Join(parts, "; ")
}
