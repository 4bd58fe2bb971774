// Package gate decides whether an inbound proxied request may reach a
// backend service. It is consumed by the /auth endpoint that Nginx calls
// through auth_request.
package gate

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/registry"
	"github.com/Armour007/portal-backend/internal/utils"
	log "github.com/sirupsen/logrus"
)

// DefaultPublicPatterns are URI fragments that never need a token: static
// assets and the login pages of proxied apps.
var DefaultPublicPatterns = []string{
	"/assets/", "/static/", "/js/", "/css/", "/images/", "/fonts/", "/dist/", "/public/",
	"favicon.ico",
	".js", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".woff", ".woff2", ".ttf", ".eot", ".map",
	"/users/sign_in", "/-/", "/login", "/register",
}

// Decision reasons, also used as metric labels.
const (
	ReasonPublicPath     = "public_path"
	ReasonBadPath        = "bad_path"
	ReasonNoToken        = "no_token"
	ReasonInvalidToken   = "invalid_token"
	ReasonUnknownUser    = "unknown_user"
	ReasonPendingUser    = "account_pending"
	ReasonRejectedUser   = "account_rejected"
	ReasonUnknownService = "unknown_service"
	ReasonPublicService  = "public_service"
	ReasonAdmin          = "admin"
	ReasonGrant          = "grant"
	ReasonNoGrant        = "no_grant"
	ReasonAuthenticated  = "authenticated"
	ReasonError          = "error"
)

// Decision is the outcome for one request.
type Decision struct {
	Allow           bool
	Status          int
	Reason          string
	Message         string
	Subject         string
	UserID          int64
	IsAdmin         bool
	ServiceID       string
	Anonymous       bool
	DownstreamToken string
}

// Tokens verifies inbound tokens and mints downstream ones.
type Tokens interface {
	Verify(token string) (*utils.Claims, error)
	Issue(subject string, extra utils.Claims, ttl time.Duration) (string, error)
}

// Directory resolves users and services.
type Directory interface {
	UserByEmail(ctx context.Context, email string) (*database.User, error)
	ServiceByID(ctx context.Context, id string) (*database.Service, error)
}

type Config struct {
	PublicPatterns   []string
	CookieName       string
	LegacyExtraction bool
	ServiceTokenTTL  time.Duration
}

// Gate is read-only and safe for concurrent use.
type Gate struct {
	tokens Tokens
	dir    Directory
	grants registry.GrantChecker
	cfg    Config
}

func New(tokens Tokens, dir Directory, grants registry.GrantChecker, cfg Config) *Gate {
	if len(cfg.PublicPatterns) == 0 {
		cfg.PublicPatterns = DefaultPublicPatterns
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "access_token"
	}
	if cfg.ServiceTokenTTL <= 0 {
		cfg.ServiceTokenTTL = 5 * time.Minute
	}
	return &Gate{tokens: tokens, dir: dir, grants: grants, cfg: cfg}
}

var serviceURIPattern = regexp.MustCompile(`^/api/([^/?#]+)`)

// ServiceIDFromURI extracts <id> from /api/<id>/...; empty when the URI is not
// a service path.
func ServiceIDFromURI(uri string) string {
	m := serviceURIPattern.FindStringSubmatch(uri)
	if m == nil {
		return ""
	}
	return m[1]
}

// OriginalURI is the URI Nginx was asked for, falling back to the request's own.
func OriginalURI(r *http.Request) string {
	if v := r.Header.Get("X-Original-URI"); v != "" {
		return v
	}
	return r.URL.RequestURI()
}

// CanonicalPath reduces a request URI to the path Nginx routes on: query and
// fragment dropped, percent-decoded once, dot-segments resolved. A trailing
// slash is kept.
func CanonicalPath(uri string) (string, error) {
	raw := uri
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}
	clean := path.Clean(decoded)
	if strings.HasSuffix(decoded, "/") && clean != "/" {
		clean += "/"
	}
	return clean, nil
}

func (g *Gate) isPublic(p string) bool {
	for _, pat := range g.cfg.PublicPatterns {
		// extension patterns only match the end of the path
		if strings.HasPrefix(pat, ".") {
			if strings.HasSuffix(p, pat) {
				return true
			}
			continue
		}
		if strings.Contains(p, pat) {
			return true
		}
	}
	return false
}

func deny(status int, reason, msg string) Decision {
	return Decision{Status: status, Reason: reason, Message: msg}
}

// Decide evaluates r. It never returns an error: lookup failures become a 500
// decision.
func (g *Gate) Decide(ctx context.Context, r *http.Request) Decision {
	uri, err := CanonicalPath(OriginalURI(r))
	if err != nil {
		return deny(http.StatusBadRequest, ReasonBadPath, "malformed request path")
	}
	if g.isPublic(uri) {
		return Decision{Allow: true, Status: http.StatusOK, Reason: ReasonPublicPath, Anonymous: true}
	}

	raw := g.ExtractToken(r)
	if raw == "" {
		return deny(http.StatusUnauthorized, ReasonNoToken, "no authorization token provided")
	}
	claims, err := g.tokens.Verify(raw)
	if err != nil || (claims.Type != "" && claims.Type != utils.TokenTypeServiceAccess) {
		return deny(http.StatusUnauthorized, ReasonInvalidToken, "could not validate credentials")
	}

	user, err := g.dir.UserByEmail(ctx, claims.Subject)
	if errors.Is(err, registry.ErrNotFound) {
		return deny(http.StatusUnauthorized, ReasonUnknownUser, "user not found")
	}
	if err != nil {
		log.WithError(err).WithField("subject", claims.Subject).Error("gate: user lookup failed")
		return deny(http.StatusInternalServerError, ReasonError, "internal error")
	}
	if !user.IsAdmin {
		switch user.Status {
		case database.UserPending:
			return deny(http.StatusForbidden, ReasonPendingUser, "account not yet approved")
		case database.UserRejected:
			return deny(http.StatusForbidden, ReasonRejectedUser, "account rejected")
		}
	}

	d := Decision{Status: http.StatusOK, Subject: user.Email, UserID: user.ID, IsAdmin: user.IsAdmin}
	serviceID := ServiceIDFromURI(uri)
	if serviceID == "" {
		d.Allow = true
		d.Reason = ReasonAuthenticated
		return d
	}
	d.ServiceID = serviceID

	svc, err := g.dir.ServiceByID(ctx, serviceID)
	if errors.Is(err, registry.ErrNotFound) {
		return deny(http.StatusNotFound, ReasonUnknownService, "service not found")
	}
	if err != nil {
		log.WithError(err).WithField("service_id", serviceID).Error("gate: service lookup failed")
		return deny(http.StatusInternalServerError, ReasonError, "internal error")
	}

	switch {
	case svc.IsPublic:
		d.Reason = ReasonPublicService
	case user.IsAdmin:
		d.Reason = ReasonAdmin
	default:
		ok, err := g.grants.HasGrant(ctx, user.ID, svc.ID)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"user_id": user.ID, "service_id": svc.ID}).Error("gate: grant check failed")
			return deny(http.StatusInternalServerError, ReasonError, "internal error")
		}
		if !ok {
			return deny(http.StatusForbidden, ReasonNoGrant, "no access to this service")
		}
		d.Reason = ReasonGrant
	}

	tok, err := g.tokens.Issue(user.Email, utils.Claims{UserID: user.ID, Type: utils.TokenTypeServiceAccess, ServiceID: svc.ID}, g.cfg.ServiceTokenTTL)
	if err != nil {
		log.WithError(err).Error("gate: mint service token failed")
		return deny(http.StatusInternalServerError, ReasonError, "internal error")
	}
	d.Allow = true
	d.DownstreamToken = tok
	return d
}
