package config

import (
	"time"

	"github.com/teemow/receptionist/internal/calendar"
	"github.com/teemow/receptionist/internal/google"
	"github.com/teemow/receptionist/internal/instrumentation"
	"github.com/teemow/receptionist/internal/logging"
	"github.com/teemow/receptionist/internal/storage/postgres"
	"github.com/teemow/receptionist/internal/storage/redis"
)

// Location returns the practice time zone. Validate guarantees it loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SlotRules returns the bookable hours in the practice time zone.
func (c Config) SlotRules() calendar.SlotRules {
	return calendar.SlotRules{
		Length:   time.Duration(c.Calendar.SlotMinutes) * time.Minute,
		DayStart: time.Duration(c.Calendar.DayStartHour) * time.Hour,
		DayEnd:   time.Duration(c.Calendar.DayEndHour) * time.Hour,
		Location: c.Location(),
	}
}

func (c Config) GoogleCredentials() google.Config {
	return google.Config{
		AuthMethod:         c.Google.AuthMethod,
		ServiceAccountPath: c.Google.ServiceAccountPath,
		DelegatedUser:      c.Google.DelegatedUser,
		ClientSecretsPath:  c.Google.ClientSecretsPath,
		TokenPath:          c.Google.TokenPath,
		TokenJSON:          c.Google.TokenJSON,
	}
}

func (c Config) Postgres() postgres.Config {
	return postgres.Config{
		URL:         c.Database.URL,
		MaxConns:    c.Database.MaxConns,
		PingTimeout: 5 * time.Second,
	}
}

func (c Config) RedisClient() redis.Config {
	rc := redis.DefaultConfig()
	rc.Addr = c.Redis.Addr
	rc.DB = c.Redis.DB
	rc.Username = c.Redis.Username
	rc.Password = c.Redis.Password
	if c.Redis.KeyPrefix != "" {
		rc.KeyPrefix = c.Redis.KeyPrefix
	}
	return rc
}

func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   true,
	}
}

// InstrumentationConfig overlays the configured values on the
// environment-derived defaults.
func (c Config) InstrumentationConfig(version string) instrumentation.Config {
	ic := instrumentation.DefaultConfig()
	ic.ServiceVersion = version
	ic.Enabled = c.Instrumentation.Enabled
	ic.MetricsExporter = c.Instrumentation.MetricsExporter
	ic.TracingExporter = c.Instrumentation.TracingExporter
	if c.Instrumentation.OTLPEndpoint != "" {
		ic.OTLPEndpoint = c.Instrumentation.OTLPEndpoint
	}
	ic.OTLPInsecure = c.Instrumentation.OTLPInsecure
	ic.TraceSamplingRate = c.Instrumentation.TraceSamplingRate
	ic.DetailedLabels = c.Instrumentation.DetailedLabels
	ic.AuditLogging.Enabled = c.Instrumentation.AuditLogging
	return ic
}
