package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", validSecret)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, time.Hour, cfg.ResetTTL)
	assert.Equal(t, MailTransportLog, cfg.MailTransport)
	assert.Equal(t, "http://localhost:8529", cfg.Arango.Endpoint())
	assert.False(t, cfg.RateLimit.Enabled())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "8080"
jwt_secret: from-file-from-file-from-file-1234
reset_ttl: 30m
mail_transport: kafka
kafka:
  brokers: ["kafka-1:9092"]
  mail_topic: mail
rate_limit:
  redis_addr: redis:6379
  limit: 5
  window: 2m
arango:
  url: https://arango.internal:8529
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MS_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("RATE_LIMIT_MAX", "7")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9090", cfg.Port, "env wins over file")
	assert.Equal(t, "from-file-from-file-from-file-1234", cfg.JWTSecret)
	assert.Equal(t, 30*time.Minute, cfg.ResetTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "mail", cfg.Kafka.MailTopic)
	assert.Equal(t, 7, cfg.RateLimit.Limit)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.Window)
	assert.True(t, cfg.RateLimit.Enabled())
	assert.Equal(t, "https://arango.internal:8529", cfg.DatabaseConfig().URL)
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jwt_secrett: typo\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TOKEN_TTL", "a week")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Default()
	base.JWTSecret = validSecret

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "short secret", mutate: func(c *Config) { c.JWTSecret = "short" }},
		{name: "zero token ttl", mutate: func(c *Config) { c.TokenTTL = 0 }},
		{name: "smtp without credentials", mutate: func(c *Config) { c.MailTransport = MailTransportSMTP }},
		{name: "kafka without brokers", mutate: func(c *Config) { c.MailTransport = MailTransportKafka }},
		{name: "unknown transport", mutate: func(c *Config) { c.MailTransport = "pigeon" }},
		{name: "admin email only", mutate: func(c *Config) { c.Admin.Email = "root@x.com" }},
		{name: "relay without smtp", mutate: func(c *Config) { c.Kafka.RunRelay = true }},
		{
			name: "smtp configured",
			mutate: func(c *Config) {
				c.MailTransport = MailTransportSMTP
				c.Email.SMTPHost = "smtp.x.com"
				c.Email.SMTPUsername = "u"
				c.Email.SMTPPassword = "p"
			},
			ok: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
