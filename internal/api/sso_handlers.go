package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/registry"
	"github.com/Armour007/portal-backend/internal/utils"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const tokenTypeSSOState = "sso_state"

type oidcProviderConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

func getEnvAny(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func ssoEnabled() bool {
	v := os.Getenv("PORTAL_SSO_ENABLE")
	return v == "1" || strings.EqualFold(v, "true")
}

func loadOIDCConfig(provider string) (*oidcProviderConfig, error) {
	p := strings.ToLower(provider)
	upper := strings.ToUpper(p)
	issuer := getEnvAny("OIDC_ISSUER_"+upper, "OIDC_ISSUER")
	clientID := getEnvAny("OIDC_CLIENT_ID_"+upper, "OIDC_CLIENT_ID")
	clientSecret := getEnvAny("OIDC_CLIENT_SECRET_"+upper, "OIDC_CLIENT_SECRET")
	redirectURL := getEnvAny("OIDC_REDIRECT_URL_"+upper, "OIDC_REDIRECT_URL")
	// Provider presets (issuer) if not provided
	if issuer == "" {
		switch p {
		case "google":
			issuer = "https://accounts.google.com"
		case "azure":
			if tid := strings.TrimSpace(os.Getenv("PORTAL_AZURE_TENANT_ID")); tid != "" {
				issuer = fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", tid)
			}
		}
	}
	// Default redirect: API base + /sso/:provider/callback
	if redirectURL == "" {
		if api := strings.TrimRight(getEnvAny("PORTAL_API_BASE_URL", "API_BASE"), "/"); api != "" {
			redirectURL = api + "/sso/" + p + "/callback"
		}
	}
	if issuer == "" || clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil, fmt.Errorf("missing OIDC configuration for provider %s", p)
	}
	scopes := []string{oidc.ScopeOpenID, "email", "profile"}
	return &oidcProviderConfig{Issuer: issuer, ClientID: clientID, ClientSecret: clientSecret, RedirectURL: redirectURL, Scopes: scopes}, nil
}

func oauthClient(ctx context.Context, cfg *oidcProviderConfig) (*oidc.Provider, *oauth2.Config, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, nil, err
	}
	return provider, &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
	}, nil
}

// signState binds the provider and a nonce into a short-lived portal token.
func signState(provider, nonce string) (string, error) {
	return tokens.Issue(provider, utils.Claims{Type: tokenTypeSSOState, RegisteredClaims: jwtlib.RegisteredClaims{ID: nonce}}, 5*time.Minute)
}

func verifyState(state, provider string) (string, error) {
	cl, err := tokens.Verify(state)
	if err != nil {
		return "", err
	}
	if cl.Type != tokenTypeSSOState || cl.Subject != provider || cl.ID == "" {
		return "", errors.New("invalid state token")
	}
	return cl.ID, nil
}

// GET /sso/:provider/login
func SSOLogin(c *gin.Context) {
	if !ssoEnabled() {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "SSO not enabled"})
		return
	}
	prov := strings.ToLower(c.Param("provider"))
	cfg, err := loadOIDCConfig(prov)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	_, oauthCfg, err := oauthClient(c.Request.Context(), cfg)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to discover OIDC provider"})
		return
	}
	nonce := uuid.New().String()
	st, err := signState(prov, nonce)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign state"})
		return
	}
	c.Redirect(http.StatusFound, oauthCfg.AuthCodeURL(st, oidc.Nonce(nonce)))
}

// GET /sso/:provider/callback maps the IdP email to a portal account. Unknown
// emails become pending accounts that an admin still has to approve.
func SSOCallback(c *gin.Context) {
	if !ssoEnabled() {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "SSO not enabled"})
		return
	}
	prov := strings.ToLower(c.Param("provider"))
	cfg, err := loadOIDCConfig(prov)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	nonce, err := verifyState(c.Query("state"), prov)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}
	ctx := c.Request.Context()
	provider, oauthCfg, err := oauthClient(ctx, cfg)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider discovery failed"})
		return
	}
	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token exchange failed"})
		return
	}
	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id_token"})
		return
	}
	idt, err := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}).Verify(ctx, rawID)
	if err != nil || idt.Nonce != nonce {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id_token"})
		return
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idt.Claims(&claims); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot parse claims"})
		return
	}
	email := utils.NormalizeEmail(claims.Email)
	if email == "" || !claims.EmailVerified {
		c.JSON(http.StatusBadRequest, gin.H{"error": "verified email not provided by IdP"})
		return
	}
	if !utils.EmailInDomain(email, settings.AllowedDomain) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only @" + settings.AllowedDomain + " addresses may sign in"})
		return
	}

	user, err := store().UserByEmail(ctx, email)
	if errors.Is(err, registry.ErrNotFound) {
		// no password: the account can only sign in through SSO until one is set
		user, err = store().CreateUser(ctx, email, "", false, database.UserPending)
	}
	if err != nil {
		abortStoreError(c, err)
		return
	}

	fe := strings.TrimRight(getEnvAny("PORTAL_FRONTEND_BASE_URL", "FRONTEND_BASE_URL"), "/")
	path := os.Getenv("PORTAL_SSO_REDIRECT_PATH")
	if path == "" {
		path = "/login/sso-callback"
	}
	u, err := url.Parse(fe + path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid frontend redirect"})
		return
	}
	q := u.Query()
	if !user.IsAdmin && user.Status != database.UserApproved {
		q.Set("status", string(user.Status))
		u.RawQuery = q.Encode()
		c.Redirect(http.StatusFound, u.String())
		return
	}
	jwtStr, err := tokens.Issue(user.Email, utils.Claims{UserID: user.ID}, settings.LoginTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint portal token"})
		return
	}
	setSessionCookie(c, jwtStr)
	q.Set("token", jwtStr)
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}
