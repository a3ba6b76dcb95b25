package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Veraticus/nexus-exposure/internal/common"
)

// EnvPrefix prefixes every environment variable read by viper.
const EnvPrefix = "NEXUS"

// Config is the typed application configuration.
type Config struct {
	Database DatabaseConfig
	Rules    RulesConfig
	Server   ServerConfig
	Logging  LoggingConfig
	Engine   EngineConfig
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string
}

// RulesConfig selects the state rule table. An empty Path means the embedded
// default table.
type RulesConfig struct {
	Path string
}

// EngineConfig tunes the nexus engine.
type EngineConfig struct {
	Workers           int
	VDALookbackMonths int
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	// CertDir holds the self-signed certificate used when TLS is on.
	CertDir         string
	ShutdownTimeout time.Duration
	TLS             bool
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string
	Format string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.local/share/nexus/nexus.db")
	v.SetDefault("rules.path", "")
	v.SetDefault("engine.workers", runtime.GOMAXPROCS(0))
	v.SetDefault("engine.vda_lookback_months", 36)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.tls", false)
	v.SetDefault("server.cert_dir", "~/.local/share/nexus/certs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// LoadDotEnv loads variables from .env files into the process environment
// without overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		path = ExpandPath(path)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		slog.Debug("Loaded environment file", "path", path)
	}
	return nil
}

// Init points v at the config file and environment. An explicit cfgFile must
// exist; otherwise $HOME/.config/nexus/config.yaml and ./config.yaml are
// searched and a missing file is not an error.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(ExpandPath(cfgFile))
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}

		// Search for config in standard locations
		v.AddConfigPath(filepath.Join(home, ".config", "nexus"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}
	return nil
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
		Rules: RulesConfig{
			Path: ExpandPath(v.GetString("rules.path")),
		},
		Engine: EngineConfig{
			Workers:           v.GetInt("engine.workers"),
			VDALookbackMonths: v.GetInt("engine.vda_lookback_months"),
		},
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
			CertDir:         ExpandPath(v.GetString("server.cert_dir")),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			TLS:             v.GetBool("server.tls"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the application cannot use.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, fmt.Errorf("%w: database.path is required", common.ErrMissingConfig))
	}
	if c.Engine.Workers < 0 {
		errs = append(errs, fmt.Errorf("%w: engine.workers must not be negative", common.ErrInvalidConfig))
	}
	if c.Engine.VDALookbackMonths < 0 {
		errs = append(errs, fmt.Errorf("%w: engine.vda_lookback_months must not be negative", common.ErrInvalidConfig))
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("%w: unknown log format %q", common.ErrInvalidConfig, c.Logging.Format))
	}
	return errors.Join(errs...)
}
