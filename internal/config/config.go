package config // package config loads application configuration from environment variables

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable; optional ones fall back to the defaults the
// storefront has always shipped with.
type Config struct {
	Env    string // application environment (development, production)
	Port   string // HTTP port to listen on
	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret   string // secret used to sign access tokens
	JWTIssuer   string
	JWTAudience string

	AccessTTL          time.Duration // access token lifetime
	RefreshTTL         time.Duration // refresh token lifetime
	RefreshRememberTTL time.Duration // refresh token lifetime with "remember me"
	BcryptCost         int

	SessionPurgeInterval time.Duration // 0 disables the background purge
	SlowTxThreshold      time.Duration // held-connection warning threshold
	CartTTL              time.Duration

	LogLevel string
}

// Load reads configuration values from environment variables. Required
// variables are collected by must() and reported together.
func Load() (Config, error) {
	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Env:    envStr("APP_ENV", "development"),
		Port:   envStr("APP_PORT", "3000"),
		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),

		JWTSecret:   must("JWT_SECRET"),
		JWTIssuer:   envStr("JWT_ISSUER", "techland"),
		JWTAudience: envStr("JWT_AUDIENCE", "techland-users"),

		AccessTTL:          envDur("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTTL:         envDur("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		RefreshRememberTTL: envDur("REFRESH_TOKEN_REMEMBER_TTL", 30*24*time.Hour),
		BcryptCost:         envInt("BCRYPT_COST", 12),

		SessionPurgeInterval: envDur("SESSION_PURGE_INTERVAL", time.Hour),
		SlowTxThreshold:      envDur("DB_SLOW_TX_THRESHOLD", 5*time.Second),
		CartTTL:              envDur("CART_TTL", 7*24*time.Hour),

		LogLevel: envStr("LOG_LEVEL", ""),
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if len(cfg.JWTSecret) < 32 && cfg.IsProduction() {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 bytes in production")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.RefreshRememberTTL < cfg.RefreshTTL {
		return Config{}, fmt.Errorf("invalid token lifetimes: access=%s refresh=%s remember=%s",
			cfg.AccessTTL, cfg.RefreshTTL, cfg.RefreshRememberTTL)
	}
	return cfg, nil
}

// IsProduction reports whether cookies must be Secure and error details hidden.
func (c Config) IsProduction() bool {
	switch strings.ToLower(c.Env) {
	case "production", "prod":
		return true
	}
	return false
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
