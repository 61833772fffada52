// Package config loads service settings from flags, environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	// Practice time zones must load in minimal container images.
	_ "time/tzdata"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment variables without a legacy name.
const EnvPrefix = "RECEPTIONIST"

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendGoogle   = "google"

	AuthServiceAccount = "service_account"
	AuthOAuth          = "oauth"

	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Config is the complete service configuration.
type Config struct {
	Env             string                `mapstructure:"env"`
	TimeZone        string                `mapstructure:"timezone"`
	Server          ServerConfig          `mapstructure:"server"`
	Calendar        CalendarConfig        `mapstructure:"calendar"`
	Google          GoogleConfig          `mapstructure:"google"`
	Holds           HoldsConfig           `mapstructure:"holds"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Redis           RedisConfig           `mapstructure:"redis"`
	CRM             CRMConfig             `mapstructure:"crm"`
	AliasesFile     string                `mapstructure:"aliases_file"`
	Logging         LoggingConfig         `mapstructure:"logging"`
	Instrumentation InstrumentationConfig `mapstructure:"instrumentation"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	WebhookToken string `mapstructure:"webhook_token"`
	// Transport is "http" or "stdio".
	Transport       string        `mapstructure:"transport"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address of the webhook server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type CalendarConfig struct {
	Backend        string        `mapstructure:"backend"`
	ID             string        `mapstructure:"id"`
	SlotMinutes    int           `mapstructure:"slot_minutes"`
	DayStartHour   int           `mapstructure:"day_start_hour"`
	DayEndHour     int           `mapstructure:"day_end_hour"`
	OptionsLimit   int           `mapstructure:"options_limit"`
	SearchWindow   time.Duration `mapstructure:"search_window"`
	GatewayTimeout time.Duration `mapstructure:"gateway_timeout"`
}

type GoogleConfig struct {
	AuthMethod         string `mapstructure:"auth_method"`
	ServiceAccountPath string `mapstructure:"service_account_path"`
	DelegatedUser      string `mapstructure:"delegated_user"`
	ClientSecretsPath  string `mapstructure:"client_secrets_path"`
	TokenPath          string `mapstructure:"token_path"`
	TokenJSON          string `mapstructure:"token_json"`
}

type HoldsConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type DatabaseConfig struct {
	URL         string `mapstructure:"url"`
	MaxConns    int32  `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	DB        int           `mapstructure:"db"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

type CRMConfig struct {
	Backend     string `mapstructure:"backend"`
	PhoneRegion string `mapstructure:"phone_region"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type InstrumentationConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MetricsExporter   string  `mapstructure:"metrics_exporter"`
	TracingExporter   string  `mapstructure:"tracing_exporter"`
	OTLPEndpoint      string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure      bool    `mapstructure:"otlp_insecure"`
	TraceSamplingRate float64 `mapstructure:"trace_sampling_rate"`
	DetailedLabels    bool    `mapstructure:"detailed_labels"`
	AuditLogging      bool    `mapstructure:"audit_logging"`
}

// legacyEnv lists environment variable names that predate the prefixed
// scheme. A prefixed variable overrides its legacy name.
var legacyEnv = map[string]string{
	"env":                         "APP_ENV",
	"server.host":                 "APP_HOST",
	"server.port":                 "APP_PORT",
	"server.webhook_token":        "RETELL_WEBHOOK_TOKEN",
	"timezone":                    "PRIMARY_TIMEZONE",
	"calendar.id":                 "GOOGLE_CALENDAR_ID",
	"google.auth_method":          "GOOGLE_AUTH_METHOD",
	"google.service_account_path": "GOOGLE_SERVICE_ACCOUNT_PATH",
	"google.delegated_user":       "GOOGLE_DELEGATED_USER",
	"google.client_secrets_path":  "GOOGLE_OAUTH_CLIENT_SECRETS_PATH",
	"google.token_path":           "GOOGLE_OAUTH_TOKEN_PATH",
	"google.token_json":           "GOOGLE_OAUTH_TOKEN_JSON",
	"database.url":                "DATABASE_URL",
	"logging.level":               "LOG_LEVEL",
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		// BindEnv only errors without a key.
		_ = v.BindEnv(key, legacy)
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("timezone", "America/New_York")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.transport", TransportHTTP)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("calendar.backend", BackendGoogle)
	v.SetDefault("calendar.id", "primary")
	v.SetDefault("calendar.slot_minutes", 30)
	v.SetDefault("calendar.day_start_hour", 9)
	v.SetDefault("calendar.day_end_hour", 17)
	v.SetDefault("calendar.options_limit", 3)
	v.SetDefault("calendar.search_window", 7*24*time.Hour)
	v.SetDefault("calendar.gateway_timeout", 20*time.Second)

	v.SetDefault("server.webhook_token", "")
	v.SetDefault("aliases_file", "")

	v.SetDefault("google.auth_method", AuthServiceAccount)
	v.SetDefault("google.service_account_path", "")
	v.SetDefault("google.delegated_user", "")
	v.SetDefault("google.client_secrets_path", "")
	v.SetDefault("google.token_path", "token.json")
	v.SetDefault("google.token_json", "")

	v.SetDefault("holds.backend", BackendMemory)
	v.SetDefault("holds.ttl", 180*time.Second)
	v.SetDefault("holds.sweep_interval", 30*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.key_prefix", "receptionist:")
	v.SetDefault("redis.lock_ttl", 30*time.Second)

	v.SetDefault("crm.backend", BackendMemory)
	v.SetDefault("crm.phone_region", "US")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("instrumentation.enabled", true)
	v.SetDefault("instrumentation.metrics_exporter", "prometheus")
	v.SetDefault("instrumentation.tracing_exporter", "none")
	v.SetDefault("instrumentation.otlp_endpoint", "")
	v.SetDefault("instrumentation.otlp_insecure", false)
	v.SetDefault("instrumentation.detailed_labels", false)
	v.SetDefault("instrumentation.trace_sampling_rate", 0.1)
	v.SetDefault("instrumentation.audit_logging", true)
}

// BindFlags binds flags to config keys. keys maps flag name to key; flags
// not in keys are left alone.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	var errs []error
	for name, key := range keys {
		f := fs.Lookup(name)
		if f == nil {
			errs = append(errs, fmt.Errorf("flag %s is not defined", name))
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Load reads the optional config file and decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
