package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigins        []string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CacheTTLSeconds       int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	BusinessTimezone      string
	LogLevel              string
	LogFormat             string
	MetricsEnabled        bool
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGINS", "http://127.0.0.1:3000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL_SECONDS", 60)
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("MANAGER_PIN", "")
	v.SetDefault("BUSINESS_TIMEZONE", "UTC")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("METRICS_ENABLED", true)
	v.AutomaticEnv()
	return v
}

// Load reads configuration from the environment. Secrets have no defaults.
func Load() Config {
	v := newViper()

	cacheTTL := v.GetInt("CACHE_TTL_SECONDS")
	if cacheTTL < 1 {
		cacheTTL = 60
	}
	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 480
	}

	return Config{
		Port:                  strings.TrimSpace(v.GetString("PORT")),
		AllowedOrigins:        splitList(v.GetString("ALLOWED_ORIGINS")),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		CacheTTLSeconds:       cacheTTL,
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
		BusinessTimezone:      strings.TrimSpace(v.GetString("BUSINESS_TIMEZONE")),
		LogLevel:              strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		LogFormat:             strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
		MetricsEnabled:        v.GetBool("METRICS_ENABLED"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// Location resolves BUSINESS_TIMEZONE, which decides what "today" is.
func (c Config) Location() (*time.Location, error) {
	if c.BusinessTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return nil, fmt.Errorf("BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err)
	}
	return loc, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
