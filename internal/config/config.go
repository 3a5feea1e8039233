package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// Outbound submission: where message bundles are posted and how the
	// jurisdiction identifies itself in them.
	SubmissionEndpoint string `mapstructure:"SUBMISSION_ENDPOINT"`
	SourceEndpoint     string `mapstructure:"SOURCE_ENDPOINT"`
	JurisdictionID     string `mapstructure:"JURISDICTION_ID"`

	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`
	JWTSecret    string `mapstructure:"JWT_SECRET"`
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
	v.SetDefault("JURISDICTION_ID", "WA")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("SUBMISSION_ENDPOINT")
	v.BindEnv("SOURCE_ENDPOINT")
	v.BindEnv("JURISDICTION_ID")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("JWT_SECRET")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER or JWT_SECRET.")
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

// Validate checks that the configuration is safe to run. Outside development
// mode real JWT validation must be configured, and submissions need a
// destination.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.AuthIssuer == "" && c.JWTSecret == "" {
			return fmt.Errorf("AUTH_ISSUER or JWT_SECRET must be set when ENV is not development; " +
				"refusing to start without authentication configuration")
		}
		if c.SubmissionEndpoint == "" {
			return fmt.Errorf("SUBMISSION_ENDPOINT is required when ENV is not development")
		}
	}
	if c.JurisdictionID == "" {
		return fmt.Errorf("JURISDICTION_ID must not be empty")
	}
	return nil
}
