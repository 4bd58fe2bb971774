package gate

import (
	"net/http"
	"regexp"
	"strings"
)

var (
	legacyHeaders = []string{"X-Access-Token", "X-Auth-Token"}
	legacyQuery   = []string{"token", "access_token"}
	legacyCookies = []string{"access_token", "Authorization", "token", "jwt"}
	jwtPattern    = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
)

func bearer(v string) string {
	parts := strings.SplitN(strings.TrimSpace(v), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// ExtractToken returns the first token found, or "". By default only the
// Authorization bearer and the configured cookie are consulted.
func (g *Gate) ExtractToken(r *http.Request) string {
	if t := bearer(r.Header.Get("Authorization")); t != "" {
		return t
	}
	if !g.cfg.LegacyExtraction {
		if c, err := r.Cookie(g.cfg.CookieName); err == nil {
			return cookieToken(c.Value)
		}
		return ""
	}

	for _, h := range legacyHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	q := r.URL.Query()
	for _, k := range legacyQuery {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	names := append([]string{g.cfg.CookieName}, legacyCookies...)
	for _, name := range names {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return cookieToken(c.Value)
		}
	}
	for _, vals := range r.Header {
		for _, v := range vals {
			if m := jwtPattern.FindString(v); m != "" {
				return m
			}
		}
	}
	return ""
}

// cookieToken accepts both a raw token and a "Bearer <token>" cookie value.
func cookieToken(v string) string {
	if t := bearer(v); t != "" {
		return t
	}
	return strings.TrimSpace(v)
}
