package usecase

import (
	"net"
	"net/url"
	"strings"
)

// LinkResolver picks the origin embedded in sign-in links: the production
// URL, then the auth base URL, then the requesting origin when it is a
// local address, then the fixed fallback.
type LinkResolver struct {
	productionURL string
	authBaseURL   string
	fallback      string
}

func NewLinkResolver(productionURL, authBaseURL, fallback string) *LinkResolver {
	return &LinkResolver{
		productionURL: strings.TrimRight(productionURL, "/"),
		authBaseURL:   strings.TrimRight(authBaseURL, "/"),
		fallback:      strings.TrimRight(fallback, "/"),
	}
}

func (r *LinkResolver) BaseURL(requestOrigin string) string {
	switch {
	case r.productionURL != "":
		return r.productionURL
	case r.authBaseURL != "":
		return r.authBaseURL
	case isLocalOrigin(requestOrigin):
		return strings.TrimRight(requestOrigin, "/")
	default:
		return r.fallback
	}
}

func (r *LinkResolver) MagicLinkURL(requestOrigin, token string) string {
	return r.BaseURL(requestOrigin) + "/auth/verify?token=" + url.QueryEscape(token)
}

func isLocalOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
