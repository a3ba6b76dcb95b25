package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/nexus-exposure/internal/common"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("NEXUS_TEST_DIR", "/tmp/nexus")

	tests := []struct {
		input string
		want  string
	}{
		{input: "", want: ""},
		{input: "~", want: home},
		{input: "~/data/nexus.db", want: filepath.Join(home, "data", "nexus.db")},
		{input: "$NEXUS_TEST_DIR/nexus.db", want: "/tmp/nexus/nexus.db"},
		{input: "/abs/path.db", want: "/abs/path.db"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.input))
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 36, cfg.Engine.VDALookbackMonths)
	assert.Positive(t, cfg.Engine.Workers)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Server.TLS)
	assert.NotContains(t, cfg.Server.CertDir, "~")
	assert.Empty(t, cfg.Rules.Path)
	assert.NotContains(t, cfg.Database.Path, "~")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestInit_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/nexus/nexus.db
rules:
  path: /etc/nexus/rules.yaml
engine:
  workers: 3
  vda_lookback_months: 48
server:
  addr: ":7000"
  allowed_origins:
    - http://localhost:5173
  tls: true
  cert_dir: /etc/nexus/certs
logging:
  level: debug
  format: json
`)
	t.Setenv("NEXUS_SERVER_ADDR", ":9090")

	v := viper.New()
	require.NoError(t, Init(v, path))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/nexus/nexus.db", cfg.Database.Path)
	assert.Equal(t, "/etc/nexus/rules.yaml", cfg.Rules.Path)
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.Equal(t, 48, cfg.Engine.VDALookbackMonths)
	assert.Equal(t, ":9090", cfg.Server.Addr, "environment overrides the file")
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Server.TLS)
	assert.Equal(t, "/etc/nexus/certs", cfg.Server.CertDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestInit_MissingExplicitFile(t *testing.T) {
	v := viper.New()
	err := Init(v, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Path: "/tmp/nexus.db"},
			Engine:   EngineConfig{Workers: 2, VDALookbackMonths: 36},
			Logging:  LoggingConfig{Level: "info", Format: "console"},
		}
	}

	tests := []struct {
		mutate  func(*Config)
		wantErr error
		name    string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.Database.Path = " " }, wantErr: common.ErrMissingConfig},
		{name: "negative workers", mutate: func(c *Config) { c.Engine.Workers = -1 }, wantErr: common.ErrInvalidConfig},
		{name: "negative lookback", mutate: func(c *Config) { c.Engine.VDALookbackMonths = -6 }, wantErr: common.ErrInvalidConfig},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: common.ErrInvalidConfig},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: common.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("NEXUS_DOTENV_NEW=loaded\nNEXUS_DOTENV_KEEP=replaced\n"), 0o600))

	t.Setenv("NEXUS_DOTENV_KEEP", "original")
	t.Cleanup(func() { _ = os.Unsetenv("NEXUS_DOTENV_NEW") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "loaded", os.Getenv("NEXUS_DOTENV_NEW"))
	assert.Equal(t, "original", os.Getenv("NEXUS_DOTENV_KEEP"), "existing variables win")
}
