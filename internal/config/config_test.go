package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORTAL_GATE_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.LoginTTL)
	assert.Equal(t, 5*time.Minute, cfg.ServiceTTL)
	assert.Equal(t, "access_token", cfg.Gate.CookieName)
	assert.False(t, cfg.Gate.LegacyExtraction)
	assert.Equal(t, []string{"nginx", "-t"}, cfg.Nginx.TestCmd)
}

func TestLoad_StrictJWTRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SECRET_KEY", "")
	t.Setenv("PORTAL_STRICT_JWT", "true")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_GateFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.yaml")
	body := "public_patterns:\n  - /assets/\n  - /health\ncookie_name: portal_token\nlegacy_extraction: true\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("JWT_SECRET", "x")
	t.Setenv("PORTAL_GATE_CONFIG", path)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"/assets/", "/health"}, cfg.Gate.PublicPatterns)
	assert.Equal(t, "portal_token", cfg.Gate.CookieName)
	assert.True(t, cfg.Gate.LegacyExtraction)
}

func TestDBConfig_DSN(t *testing.T) {
	d := DBConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}
