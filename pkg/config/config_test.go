package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
gateway:
  port: 9090
mysql:
  host: db
  username: kiosk
  password: secret
  database: kiosk
auth:
  jwt_secret: 0123456789abcdef0123
redis:
  addr: cache:6379
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Gateway.Port)
	assert.Equal(t, "0.0.0.0", cfg.Gateway.Host)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, 3306, cfg.MySQL.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, 10, cfg.Reports.LowStockThreshold)
	assert.Equal(t, []string{"stdout"}, cfg.Log.OutputPaths)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("KIOSK_MYSQL_HOST", "mysql.internal")
	t.Setenv("KIOSK_GATEWAY_PORT", "7070")
	t.Setenv("KIOSK_GATEWAY_ADVERTISE_HOST", "gateway.internal")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "mysql.internal", cfg.MySQL.Host)
	assert.Equal(t, 7070, cfg.Gateway.Port)
	assert.Equal(t, "gateway.internal", cfg.Gateway.AdvertiseHost)
}

func TestLoad_RejectsWeakSecret(t *testing.T) {
	body := `
mysql:
  database: kiosk
auth:
  jwt_secret: short
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMySQLConfig_DSN(t *testing.T) {
	c := MySQLConfig{Host: "db", Port: 3306, Username: "u", Password: "p", Database: "kiosk"}
	assert.Equal(t, "u:p@tcp(db:3306)/kiosk?charset=utf8mb4&parseTime=True&loc=Local", c.DSN())
}
