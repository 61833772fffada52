package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryDefaults(t *testing.T) {
	t.Helper()
	t.Setenv("RECEPTIONIST_CALENDAR_BACKEND", "memory")
}

func TestLoadDefaults(t *testing.T) {
	memoryDefaults(t)

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, "America/New_York", cfg.TimeZone)
	assert.Equal(t, 180*time.Second, cfg.Holds.TTL)
	assert.Equal(t, 30*time.Second, cfg.Holds.SweepInterval)
	assert.Equal(t, BackendMemory, cfg.Holds.Backend)
	assert.Equal(t, "primary", cfg.Calendar.ID)
	assert.Equal(t, 3, cfg.Calendar.OptionsLimit)
	assert.Equal(t, 7*24*time.Hour, cfg.Calendar.SearchWindow)
	assert.Equal(t, 20*time.Second, cfg.Calendar.GatewayTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)

	rules := cfg.SlotRules()
	assert.Equal(t, 30*time.Minute, rules.Length)
	assert.Equal(t, 9*time.Hour, rules.DayStart)
	assert.Equal(t, 17*time.Hour, rules.DayEnd)
	assert.Equal(t, "America/New_York", rules.Location.String())
}

func TestLegacyEnvironment(t *testing.T) {
	memoryDefaults(t)
	t.Setenv("APP_PORT", "9000")
	t.Setenv("PRIMARY_TIMEZONE", "Europe/Berlin")
	t.Setenv("RETELL_WEBHOOK_TOKEN", "s3cret")
	t.Setenv("GOOGLE_CALENDAR_ID", "clinic@example.com")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://localhost/receptionist")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
	assert.Equal(t, "s3cret", cfg.Server.WebhookToken)
	assert.Equal(t, "clinic@example.com", cfg.Calendar.ID)
	assert.Equal(t, "debug", cfg.LoggingConfig().Level)
	assert.Equal(t, "postgres://localhost/receptionist", cfg.Postgres().URL)
}

func TestPrefixedEnvironment(t *testing.T) {
	memoryDefaults(t)
	t.Setenv("RECEPTIONIST_HOLDS_BACKEND", "redis")
	t.Setenv("RECEPTIONIST_REDIS_ADDR", "redis:6380")
	t.Setenv("RECEPTIONIST_HOLDS_TTL", "2m")
	t.Setenv("RECEPTIONIST_SERVER_PORT", "8100")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Holds.Backend)
	assert.Equal(t, "redis:6380", cfg.RedisClient().Addr)
	assert.Equal(t, "receptionist:", cfg.RedisClient().KeyPrefix)
	assert.Equal(t, 2*time.Minute, cfg.Holds.TTL)
	assert.Equal(t, 8100, cfg.Server.Port)
}

func TestPrefixedEnvironmentOverridesLegacy(t *testing.T) {
	memoryDefaults(t)
	t.Setenv("APP_PORT", "9000")
	t.Setenv("RECEPTIONIST_SERVER_PORT", "8100")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 8100, cfg.Server.Port)
}

func TestLoadFile(t *testing.T) {
	memoryDefaults(t)
	path := filepath.Join(t.TempDir(), "receptionist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: America/Chicago
holds:
  backend: postgres
  ttl: 90s
database:
  url: postgres://db/receptionist
calendar:
  day_start_hour: 8
  day_end_hour: 12
aliases_file: /etc/receptionist/aliases.yaml
`), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "America/Chicago", cfg.TimeZone)
	assert.Equal(t, BackendPostgres, cfg.Holds.Backend)
	assert.Equal(t, 90*time.Second, cfg.Holds.TTL)
	assert.Equal(t, 8*time.Hour, cfg.SlotRules().DayStart)
	assert.Equal(t, "/etc/receptionist/aliases.yaml", cfg.AliasesFile)

	_, err = Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBindFlags(t *testing.T) {
	memoryDefaults(t)
	v := New()
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("holds-backend", "memory", "")
	fs.Duration("hold-ttl", 0, "")
	require.NoError(t, BindFlags(v, fs, map[string]string{
		"holds-backend": "holds.backend",
		"hold-ttl":      "holds.ttl",
	}))
	require.NoError(t, fs.Parse([]string{"--hold-ttl=45s"}))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Holds.TTL)
	assert.Equal(t, BackendMemory, cfg.Holds.Backend)

	err = BindFlags(v, fs, map[string]string{"nope": "x"})
	assert.ErrorContains(t, err, "nope")
}

func TestValidate(t *testing.T) {
	memoryDefaults(t)
	base, err := Load(New(), "")
	require.NoError(t, err)
	valid := func() Config { return base }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"transport", func(c *Config) { c.Server.Transport = "grpc" }, "server.transport"},
		{"timezone", func(c *Config) { c.TimeZone = "Mars/Olympus" }, "timezone"},
		{"calendar backend", func(c *Config) { c.Calendar.Backend = "outlook" }, "calendar.backend"},
		{"service account path", func(c *Config) { c.Calendar.Backend = BackendGoogle }, "service_account_path"},
		{"oauth secrets", func(c *Config) {
			c.Calendar.Backend = BackendGoogle
			c.Google.AuthMethod = AuthOAuth
		}, "client_secrets_path"},
		{"auth method", func(c *Config) {
			c.Calendar.Backend = BackendGoogle
			c.Google.AuthMethod = "apikey"
		}, "google.auth_method"},
		{"hours", func(c *Config) { c.Calendar.DayStartHour = 18 }, "working hours"},
		{"postgres url", func(c *Config) { c.Holds.Backend = BackendPostgres }, "database.url"},
		{"redis addr", func(c *Config) {
			c.Holds.Backend = BackendRedis
			c.Redis.Addr = ""
		}, "redis.addr"},
		{"gateway timeout above lock ttl", func(c *Config) {
			c.Holds.Backend = BackendRedis
			c.Calendar.GatewayTimeout = c.Redis.LockTTL
		}, "calendar.gateway_timeout"},
		{"gateway timeout", func(c *Config) { c.Calendar.GatewayTimeout = 0 }, "calendar.gateway_timeout"},
		{"holds backend", func(c *Config) { c.Holds.Backend = "etcd" }, "holds.backend"},
		{"ttl", func(c *Config) { c.Holds.TTL = 0 }, "holds.ttl"},
		{"crm backend", func(c *Config) { c.CRM.Backend = "salesforce" }, "crm.backend"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"sampling", func(c *Config) { c.Instrumentation.TraceSamplingRate = 2 }, "trace_sampling_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	t.Run("google with service account", func(t *testing.T) {
		cfg := valid()
		cfg.Calendar.Backend = BackendGoogle
		cfg.Google.ServiceAccountPath = "/secrets/sa.json"
		assert.NoError(t, cfg.Validate())
	})
}

func TestInstrumentationConfig(t *testing.T) {
	memoryDefaults(t)
	t.Setenv("RECEPTIONIST_INSTRUMENTATION_DETAILED_LABELS", "true")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	ic := cfg.InstrumentationConfig("1.2.3")
	assert.Equal(t, "1.2.3", ic.ServiceVersion)
	assert.True(t, ic.Enabled)
	assert.True(t, ic.DetailedLabels)
	assert.Equal(t, "prometheus", ic.MetricsExporter)
	assert.NoError(t, ic.Validate())
}
