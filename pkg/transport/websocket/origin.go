package websocket

import (
	"net/http"
	"net/url"
	"strings"
)

// SameOriginCheck accepts requests without an Origin header and requests
// whose Origin host matches the Host header.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// AllowAllOrigins accepts every origin. Use only in development.
func AllowAllOrigins(r *http.Request) bool {
	return true
}
