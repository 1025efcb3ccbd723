// Package config loads process configuration through Viper: an optional
// config.yaml, SENSIBYTE_-prefixed environment variables and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	Hash     HashConfig     `mapstructure:"hash"`
	Database DatabaseConfig `mapstructure:"database"`
	Fixtures FixturesConfig `mapstructure:"fixtures"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// HashConfig carries the two patient-hash salts. Both are mandatory.
type HashConfig struct {
	SaltPre  string `mapstructure:"salt_pre"`
	SaltPost string `mapstructure:"salt_post"`
}

// DatabaseConfig selects and parameterizes the store backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // memory, postgres or sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"` // sqlite file
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// FixturesConfig locates the seed JSON files.
type FixturesConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig controls logrus.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file, environment and defaults. A missing
// config file is fine; missing hash salts are a fatal misconfiguration.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/sensibyte/")

	v.SetEnvPrefix("SENSIBYTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The salts keep their historical unprefixed names.
	_ = v.BindEnv("hash.salt_pre", "HASH_SALT_PRE")
	_ = v.BindEnv("hash.salt_post", "HASH_SALT_POST")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "sensibyte")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "sensibyte.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("fixtures.dir", "fixtures")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate enforces the startup invariants.
func (c *Config) Validate() error {
	if c.Hash.SaltPre == "" || c.Hash.SaltPost == "" {
		return fmt.Errorf("HASH_SALT_PRE and HASH_SALT_POST must be set in the environment")
	}
	switch c.Database.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

// PostgresDSN renders the pgx connection string.
func (c *DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}
