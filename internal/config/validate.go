package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}
	switch c.Server.Transport {
	case TransportHTTP, TransportStdio:
	default:
		add("server.transport must be http or stdio, got %q", c.Server.Transport)
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		add("timezone %q: %v", c.TimeZone, err)
	}

	switch c.Calendar.Backend {
	case BackendMemory:
	case BackendGoogle:
		errs = append(errs, c.Google.validate()...)
	default:
		add("calendar.backend must be google or memory, got %q", c.Calendar.Backend)
	}
	if c.Calendar.SlotMinutes <= 0 {
		add("calendar.slot_minutes must be positive")
	}
	if c.Calendar.DayStartHour < 0 || c.Calendar.DayEndHour > 24 || c.Calendar.DayStartHour >= c.Calendar.DayEndHour {
		add("calendar working hours %d-%d are invalid", c.Calendar.DayStartHour, c.Calendar.DayEndHour)
	}
	if c.Calendar.OptionsLimit <= 0 {
		add("calendar.options_limit must be positive")
	}

	switch c.Holds.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			add("holds.backend postgres requires database.url")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			add("holds.backend redis requires redis.addr")
		}
		if c.Redis.LockTTL > 0 && c.Calendar.GatewayTimeout >= c.Redis.LockTTL {
			add("calendar.gateway_timeout must be shorter than redis.lock_ttl")
		}
	default:
		add("holds.backend must be memory, postgres or redis, got %q", c.Holds.Backend)
	}
	if c.Calendar.GatewayTimeout <= 0 {
		add("calendar.gateway_timeout must be positive")
	}
	if c.Holds.TTL <= 0 {
		add("holds.ttl must be positive")
	}
	if c.Holds.SweepInterval <= 0 {
		add("holds.sweep_interval must be positive")
	}

	switch c.CRM.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			add("crm.backend postgres requires database.url")
		}
	default:
		add("crm.backend must be memory or postgres, got %q", c.CRM.Backend)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if r := c.Instrumentation.TraceSamplingRate; r < 0 || r > 1 {
		add("instrumentation.trace_sampling_rate must be between 0 and 1")
	}

	return errors.Join(errs...)
}

func (g GoogleConfig) validate() []error {
	var errs []error
	switch g.AuthMethod {
	case AuthServiceAccount:
		if g.ServiceAccountPath == "" {
			errs = append(errs, errors.New("google.service_account_path is required for service_account auth"))
		}
	case AuthOAuth:
		if g.ClientSecretsPath == "" {
			errs = append(errs, errors.New("google.client_secrets_path is required for oauth auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("google.auth_method must be service_account or oauth, got %q", g.AuthMethod))
	}
	return errs
}
