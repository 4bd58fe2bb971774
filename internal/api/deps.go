package api

import (
	"context"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/config"
	"github.com/Armour007/portal-backend/internal/gate"
	"github.com/Armour007/portal-backend/internal/health"
	"github.com/Armour007/portal-backend/internal/nginx"
	"github.com/Armour007/portal-backend/internal/registry"
	"github.com/Armour007/portal-backend/internal/utils"
)

// Settings are the handler-facing knobs taken from config.Config.
type Settings struct {
	AllowedDomain string
	LoginTTL      time.Duration
	ServiceTTL    time.Duration
	CookieName    string
	SecureCookie  bool
	Gate          gate.Config
	SessionIdle   time.Duration
}

var (
	settings = Settings{
		AllowedDomain: "gmail.com",
		LoginTTL:      24 * time.Hour,
		ServiceTTL:    5 * time.Minute,
		CookieName:    "access_token",
		SessionIdle:   30 * time.Minute,
	}

	tokens     *utils.TokenService
	synth      *nginx.Synthesizer
	checker    *health.Checker
	grantCache *registry.CachedGrants
)

// Configure copies the relevant parts of cfg into the handler settings.
func Configure(cfg *config.Config) {
	settings = Settings{
		AllowedDomain: cfg.AllowedDomain,
		LoginTTL:      cfg.LoginTTL,
		ServiceTTL:    cfg.ServiceTTL,
		CookieName:    cfg.Gate.CookieName,
		SecureCookie:  cfg.SecureCookie,
		SessionIdle:   cfg.SessionIdle,
		Gate: gate.Config{
			PublicPatterns:   cfg.Gate.PublicPatterns,
			CookieName:       cfg.Gate.CookieName,
			LegacyExtraction: cfg.Gate.LegacyExtraction,
			ServiceTokenTTL:  cfg.ServiceTTL,
		},
	}
}

func SetTokens(ts *utils.TokenService)       { tokens = ts }
func SetSynthesizer(s *nginx.Synthesizer)    { synth = s }
func SetChecker(c *health.Checker)           { checker = c }
func SetGrantCache(c *registry.CachedGrants) { grantCache = c }

// store binds the registry to the current pool so tests can swap database.DB.
func store() *registry.Store { return registry.New(database.DB) }

// dbGrants resolves grants against whatever pool is current at call time.
type dbGrants struct{}

func (dbGrants) HasGrant(ctx context.Context, userID int64, serviceID string) (bool, error) {
	return store().HasGrant(ctx, userID, serviceID)
}

// NewGrantCache wraps the database grant lookup for the gate.
func NewGrantCache(ttl, negTTL time.Duration) *registry.CachedGrants {
	return registry.NewCachedGrants(dbGrants{}, ttl, negTTL)
}

func grants() registry.GrantChecker {
	if grantCache != nil {
		return grantCache
	}
	return dbGrants{}
}

func portalGate() *gate.Gate {
	return gate.New(tokens, store(), grants(), settings.Gate)
}
