package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL      string   `mapstructure:"REDIS_URL"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`
	AuthHSSecret  string   `mapstructure:"AUTH_HS_SECRET"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS  float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	ScoringEngineURL       string `mapstructure:"SCORING_ENGINE_URL"`
	ScoringEngineTimeoutMS int    `mapstructure:"SCORING_ENGINE_TIMEOUT_MS"`
	QueueDriftMinutes      int    `mapstructure:"QUEUE_DRIFT_MINUTES"`
	QueueCacheTTLSeconds   int    `mapstructure:"QUEUE_CACHE_TTL_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("SCORING_ENGINE_TIMEOUT_MS", 2000)
	v.SetDefault("QUEUE_DRIFT_MINUTES", 5)
	v.SetDefault("QUEUE_CACHE_TTL_SECONDS", 15)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_HS_SECRET")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("SCORING_ENGINE_URL")
	v.BindEnv("SCORING_ENGINE_TIMEOUT_MS")
	v.BindEnv("QUEUE_DRIFT_MINUTES")
	v.BindEnv("QUEUE_CACHE_TTL_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER or AUTH_HS_SECRET.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ScoringEngineTimeout returns the per-call budget for the remote scoring
// engine. Values at or below zero fall back to two seconds.
func (c *Config) ScoringEngineTimeout() time.Duration {
	if c.ScoringEngineTimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.ScoringEngineTimeoutMS) * time.Millisecond
}

// QueueCacheTTL returns how long an ordered queue view may be served from
// cache. It is kept well under the recalculation drift threshold.
func (c *Config) QueueCacheTTL() time.Duration {
	if c.QueueCacheTTLSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.QueueCacheTTLSeconds) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// some JWT verification source must be configured so authentication is
// actually enforced.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthHSSecret == "" {
		return fmt.Errorf(
			"one of AUTH_ISSUER or AUTH_HS_SECRET must be set when ENV=%q; "+
				"refusing to start without authentication configuration", c.Env)
	}
	if c.QueueDriftMinutes < 0 {
		return fmt.Errorf("QUEUE_DRIFT_MINUTES must not be negative")
	}
	if c.ScoringEngineTimeoutMS < 0 {
		return fmt.Errorf("SCORING_ENGINE_TIMEOUT_MS must not be negative")
	}
	return nil
}
