package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	assert.Equal(t, "jsonlogic", cfg.Engine.Evaluator)
	assert.Equal(t, "sync", cfg.Engine.Dispatch)
	assert.Equal(t, "quiz_points", cfg.Scoring.PointsMetric)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ACHIEVEKIT_ENV", "staging")
	t.Setenv("ACHIEVEKIT_SERVER_ADDR", ":9191")
	t.Setenv("ACHIEVEKIT_ENGINE_EVALUATOR", "cel")
	t.Setenv("ACHIEVEKIT_ENGINE_NEW_UNLOCKS_ONLY", "true")
	t.Setenv("ACHIEVEKIT_SECURITY_API_KEYS", "k1, k2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvStaging, cfg.Environment)
	assert.Equal(t, ":9191", cfg.Server.Address)
	assert.Equal(t, "cel", cfg.Engine.Evaluator)
	assert.True(t, cfg.Engine.NewUnlocksOnly)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Security.APIKeys)
}

func TestLoadFromFile(t *testing.T) {
	configContent := `{
		"environment": "testing",
		"server": {
			"address": ":9090"
		},
		"storage": {
			"adapter": "memory"
		},
		"engine": {
			"evaluator": "cel",
			"dispatch": "async"
		}
	}`

	tmpFile, err := os.CreateTemp("", "config_test_*.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(configContent)
	require.NoError(t, err)
	tmpFile.Close()

	cfg, err := LoadFromFile(tmpFile.Name())
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	assert.Equal(t, "cel", cfg.Engine.Evaluator)
	assert.Equal(t, "async", cfg.Engine.Dispatch)
}

func validConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Address:           ":8080",
			ReadTimeout:       time.Second,
			WriteTimeout:      time.Second,
			IdleTimeout:       time.Second,
			ReadHeaderTimeout: time.Second,
			ShutdownTimeout:   time.Second,
		},
		Storage: StorageConfig{Adapter: "memory"},
		Engine:  EngineConfig{Evaluator: "jsonlogic", Dispatch: "sync"},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"invalid environment", func(c *Config) { c.Environment = "" }, true},
		{"invalid server timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, true},
		{"invalid storage adapter", func(c *Config) { c.Storage.Adapter = "etcd" }, true},
		{"mongo without uri", func(c *Config) { c.Storage.Adapter = "mongo" }, true},
		{"sql without dsn", func(c *Config) { c.Storage.Adapter = "sql" }, true},
		{"invalid evaluator", func(c *Config) { c.Engine.Evaluator = "lua" }, true},
		{"invalid dispatch", func(c *Config) { c.Engine.Dispatch = "queued" }, true},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"rate limit without rpm", func(c *Config) {
			c.Security.EnableRateLimit = true
			c.Security.RateLimit.BurstSize = 5
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.SQL.DSN = "postgres://user:hunter2@db/achievekit"
	cfg.Storage.Redis.Password = "hunter2"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED]")
}

func TestValidateConfigPath(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config_test_*.json")
	require.NoError(t, err)
	tmpFile.WriteString("{}")
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	assert.NoError(t, validateConfigPath(tmpFile.Name()))
	assert.Error(t, validateConfigPath(""))
	assert.Error(t, validateConfigPath("../../../etc/passwd"))
	assert.Error(t, validateConfigPath("nonexistent.json"))
}
