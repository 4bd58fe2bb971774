package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the portal. Values come from the environment
// (optionally seeded from a .env file) with inline defaults.
type Config struct {
	Port string

	DB DBConfig

	JWTSecret     string
	StrictJWT     bool
	LoginTTL      time.Duration
	ServiceTTL    time.Duration
	AllowedDomain string
	SecureCookie  bool

	Nginx NginxConfig
	Gate  GateConfig

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string

	HealthCron     string
	StatusTTL      time.Duration
	SessionIdle    time.Duration
	LoginRPM       int
	CORSOrigins    []string
	TrustedProxies []string

	LogLevel  string
	LogFormat string
	OTel      bool
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the key/value connection string understood by pgx.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type NginxConfig struct {
	ServicesDir string
	// Controller selects how the proxy is validated and reloaded: exec, docker or none.
	Controller string
	Container  string
	TestCmd    []string
	ReloadCmd  []string
}

// GateConfig can also be loaded from the YAML file named by PORTAL_GATE_CONFIG.
type GateConfig struct {
	PublicPatterns   []string `yaml:"public_patterns"`
	CookieName       string   `yaml:"cookie_name"`
	LegacyExtraction bool     `yaml:"legacy_extraction"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.WithError(err).Debug("no .env file loaded")
	}

	cfg := &Config{
		Port: firstNonEmpty(os.Getenv("PORT"), os.Getenv("PORTAL_PORT"), "8000"),
		DB: DBConfig{
			Host:     envOr("DB_HOST", "localhost"),
			Port:     envOr("DB_PORT", "5432"),
			User:     envOr("DB_USER", "portal"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     envOr("DB_NAME", "portal"),
			SSLMode:  envOr("DB_SSLMODE", "disable"),
		},
		JWTSecret:     firstNonEmpty(strings.TrimSpace(os.Getenv("JWT_SECRET")), strings.TrimSpace(os.Getenv("SECRET_KEY"))),
		StrictJWT:     envBool("PORTAL_STRICT_JWT", false),
		LoginTTL:      envDuration("PORTAL_LOGIN_TTL", 24*time.Hour),
		ServiceTTL:    envDuration("PORTAL_SERVICE_TOKEN_TTL", 5*time.Minute),
		AllowedDomain: envOr("ALLOWED_DOMAIN", "gmail.com"),
		SecureCookie:  envBool("PORTAL_SECURE_COOKIE", false),
		Nginx: NginxConfig{
			ServicesDir: envOr("PORTAL_NGINX_SERVICES_DIR", "/etc/nginx/services.d"),
			Controller:  envOr("PORTAL_NGINX_CONTROLLER", "docker"),
			Container:   envOr("PORTAL_NGINX_CONTAINER", "nginx"),
			TestCmd:     strings.Fields(envOr("PORTAL_NGINX_TEST_CMD", "nginx -t")),
			ReloadCmd:   strings.Fields(envOr("PORTAL_NGINX_RELOAD_CMD", "nginx -s reload")),
		},
		Gate: GateConfig{
			CookieName:       envOr("PORTAL_GATE_COOKIE", "access_token"),
			LegacyExtraction: envBool("PORTAL_GATE_LEGACY_EXTRACTION", false),
		},
		RedisAddr:      os.Getenv("PORTAL_REDIS_ADDR"),
		RedisPassword:  os.Getenv("PORTAL_REDIS_PASSWORD"),
		RedisDB:        envInt("PORTAL_REDIS_DB", 0),
		NATSURL:        os.Getenv("PORTAL_NATS_URL"),
		HealthCron:     envOr("PORTAL_HEALTH_CRON", "*/5 * * * *"),
		StatusTTL:      envDuration("PORTAL_STATUS_TTL", 2*time.Minute),
		SessionIdle:    envDuration("PORTAL_SESSION_IDLE", 30*time.Minute),
		LoginRPM:       envInt("PORTAL_LOGIN_RPM", 30),
		CORSOrigins:    splitList(os.Getenv("PORTAL_CORS_ORIGINS")),
		TrustedProxies: splitList(os.Getenv("PORTAL_TRUSTED_PROXIES")),
		LogLevel:       envOr("PORTAL_LOG_LEVEL", "info"),
		LogFormat:      envOr("PORTAL_LOG_FORMAT", "text"),
		OTel:           envBool("PORTAL_OTEL_ENABLE", false) || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
	}

	if cfg.JWTSecret == "" && !cfg.StrictJWT {
		cfg.JWTSecret = "dev_portal_secret"
		log.Warn("JWT_SECRET not set, using development secret")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable not set")
	}

	if path := os.Getenv("PORTAL_GATE_CONFIG"); path != "" {
		if err := cfg.Gate.loadFile(path); err != nil {
			return nil, fmt.Errorf("load gate config %s: %w", path, err)
		}
	}
	return cfg, nil
}

func (g *GateConfig) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fileCfg GateConfig
	if err := yaml.Unmarshal(b, &fileCfg); err != nil {
		return err
	}
	if len(fileCfg.PublicPatterns) > 0 {
		g.PublicPatterns = fileCfg.PublicPatterns
	}
	if fileCfg.CookieName != "" {
		g.CookieName = fileCfg.CookieName
	}
	if fileCfg.LegacyExtraction {
		g.LegacyExtraction = true
	}
	return nil
}

// ConfigureLogging applies level and format to the global logrus logger.
func (c *Config) ConfigureLogging() {
	if lvl, err := log.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	if strings.EqualFold(c.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
