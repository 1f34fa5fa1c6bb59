package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	LegacyWholeSystemParams bool   `mapstructure:"SEARCH_LEGACY_WHOLE_SYSTEM_PARAMS"`
	MaxIncludeCount         int    `mapstructure:"SEARCH_MAX_INCLUDE_COUNT"`
	DefaultPageSize         int    `mapstructure:"SEARCH_DEFAULT_PAGE_SIZE"`
	MaxPageSize             int    `mapstructure:"SEARCH_MAX_PAGE_SIZE"`
	SchemaVariant           string `mapstructure:"SCHEMA_VARIANT"`
	RegistryFile            string `mapstructure:"REGISTRY_FILE"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
}

var keys = []string{
	"PORT",
	"ENV",
	"LOG_LEVEL",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"SEARCH_LEGACY_WHOLE_SYSTEM_PARAMS",
	"SEARCH_MAX_INCLUDE_COUNT",
	"SEARCH_DEFAULT_PAGE_SIZE",
	"SEARCH_MAX_PAGE_SIZE",
	"SCHEMA_VARIANT",
	"REGISTRY_FILE",
	"AUTH_SIGNING_KEY",
	"AUTH_ISSUER",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("SEARCH_LEGACY_WHOLE_SYSTEM_PARAMS", false)
	v.SetDefault("SEARCH_MAX_INCLUDE_COUNT", 1000)
	v.SetDefault("SEARCH_DEFAULT_PAGE_SIZE", 10)
	v.SetDefault("SEARCH_MAX_PAGE_SIZE", 1000)
	v.SetDefault("SCHEMA_VARIANT", "plain")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// AuthEnabled reports whether the explain API requires a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

// Validate checks the search limits and the schema variant.
func (c *Config) Validate() error {
	switch c.SchemaVariant {
	case "plain", "distributed":
	default:
		return fmt.Errorf("SCHEMA_VARIANT must be \"plain\" or \"distributed\", got %q", c.SchemaVariant)
	}
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("SEARCH_DEFAULT_PAGE_SIZE must be positive, got %d", c.DefaultPageSize)
	}
	if c.MaxPageSize <= 0 {
		return fmt.Errorf("SEARCH_MAX_PAGE_SIZE must be positive, got %d", c.MaxPageSize)
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("SEARCH_DEFAULT_PAGE_SIZE (%d) exceeds SEARCH_MAX_PAGE_SIZE (%d)", c.DefaultPageSize, c.MaxPageSize)
	}
	if c.MaxIncludeCount < 0 {
		return fmt.Errorf("SEARCH_MAX_INCLUDE_COUNT must not be negative, got %d", c.MaxIncludeCount)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
