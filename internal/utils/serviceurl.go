package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ipv4Pattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

// ServiceURL is the routing information extracted from an admin-supplied URL.
type ServiceURL struct {
	Protocol string
	Host     string
	Port     *int
	Path     string
	IsIP     bool
}

// ParseServiceURL splits a free-form URL such as "10.0.0.5:8080/app" into its
// routing parts. The scheme defaults to http, the port is taken after the last
// colon of the authority (dropped when not numeric) and the path defaults to "/".
// Query strings and fragments are discarded.
func ParseServiceURL(raw string) (ServiceURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ServiceURL{}, fmt.Errorf("service url is empty")
	}
	out := ServiceURL{Protocol: "http", Path: "/"}

	rest := raw
	if scheme, after, ok := strings.Cut(raw, "://"); ok {
		scheme = strings.ToLower(scheme)
		if scheme != "http" && scheme != "https" {
			return ServiceURL{}, fmt.Errorf("unsupported scheme %q", scheme)
		}
		out.Protocol = scheme
		rest = after
	}

	authority := rest
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		authority = rest[:i]
		path := rest[i:]
		if j := strings.IndexAny(path, "?#"); j >= 0 {
			path = path[:j]
		}
		if path != "" {
			out.Path = path
		}
	}

	host := authority
	if i := strings.LastIndex(authority, ":"); i >= 0 {
		host = authority[:i]
		if p, err := strconv.Atoi(authority[i+1:]); err == nil && p > 0 && p < 65536 {
			out.Port = &p
		}
	}
	host = strings.ToLower(host)
	if host == "" {
		return ServiceURL{}, fmt.Errorf("service url %q has no host", raw)
	}
	out.Host = host
	out.IsIP = ipv4Pattern.MatchString(host)
	return out, nil
}

// Authority returns host[:port].
func (u ServiceURL) Authority() string {
	return FormatAuthority(u.Host, u.Port)
}

// Render is the inverse of ParseServiceURL.
func (u ServiceURL) Render() string {
	return RenderServiceURL(u.Protocol, u.Host, u.Port, u.Path)
}

// FormatAuthority returns host, or host:port when a port is set.
func FormatAuthority(host string, port *int) string {
	if port == nil {
		return host
	}
	return host + ":" + strconv.Itoa(*port)
}

// RenderServiceURL builds protocol://host[:port][path].
func RenderServiceURL(protocol, host string, port *int, path string) string {
	if protocol == "" {
		protocol = "http"
	}
	if path == "" {
		path = "/"
	}
	return protocol + "://" + FormatAuthority(host, port) + path
}
