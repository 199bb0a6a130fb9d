package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLoad_LayersFilesAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
store: postgres
jwt:
  secret: ${JWT_SECRET}
escalation:
  tick_interval: 2m
  concurrency: 4
report:
  token_ttl: 48h
`)
	writeFile(t, dir, "test.yaml", `
store: memory
escalation:
  concurrency: 2
`)
	writeFile(t, dir, "secrets.env", "JWT_SECRET=s3cret\n")

	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("FRONTEND_BASE", "https://partners.example.com")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, 2*time.Minute, cfg.Escalation.TickInterval)
	assert.Equal(t, 2, cfg.Escalation.Concurrency)
	assert.Equal(t, 48*time.Hour, cfg.Report.TokenTTL)
	assert.Equal(t, "https://partners.example.com", cfg.Report.FrontendBase)
	assert.Equal(t, "9090", cfg.Server.Port)
	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Escalation.DispatchTimeout)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "missing jwt secret")

	cfg.JWT.Secret = "x"
	assert.NoError(t, cfg.Validate())

	cfg.Store = "sqlite"
	assert.Error(t, cfg.Validate())
}
