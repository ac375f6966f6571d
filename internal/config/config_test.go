package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"APP_ENV", "APP_HOST", "APP_PORT", "DATA_DIR", "DATABASE_DRIVER",
	"MAX_UPLOAD_MB", "CORS_ORIGINS", "SERVE_STATIC", "PRIMITIVE_BIN", "LOG_LEVEL",
}

// clearEnv blanks every override so the host environment cannot leak into tests
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, "staging", cfg.App.Environment)
				assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, []string{"http://localhost:5173", "https://primitive.example.com"}, cfg.Server.CORSOrigins)
				assert.True(t, cfg.Server.ServeStatic)
				assert.Equal(t, "postgres", cfg.Database.Driver)
				assert.Equal(t, "primitive_db", cfg.Database.Database)
				assert.Empty(t, cfg.Database.Path, "postgres never gets a sqlite path")
				assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
				assert.Equal(t, "job.run", cfg.RabbitMQ.RoutingKey, "unset keys keep their defaults")
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, 50, cfg.Storage.MaxUploadMB)
				assert.True(t, filepath.IsAbs(cfg.Storage.DataDir))
				assert.Equal(t, "/usr/local/bin/primitive", cfg.Runner.Executable)
				assert.Equal(t, 3*time.Second, cfg.Runner.NotifySendTimeout)
				assert.Equal(t, "rabbitmq", cfg.Worker.Mode)
				assert.Equal(t, 90*time.Second, cfg.Worker.ShutdownTimeout)
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "/data", cfg.Storage.DataDir)
	assert.Equal(t, "/data/primitive.db", cfg.Database.Path)
	assert.Equal(t, "/data/uploads", cfg.Storage.UploadsDir())
	assert.Equal(t, "/data/jobs", cfg.Storage.JobsDir())
	assert.Equal(t, int64(25*1024*1024), cfg.Storage.MaxUploadBytes())
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "local", cfg.Worker.Mode)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	dataDir := t.TempDir()

	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("MAX_UPLOAD_MB", "5")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("SERVE_STATIC", "TRUE")
	t.Setenv("PRIMITIVE_BIN", "/opt/primitive")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Environment)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, dataDir, cfg.Storage.DataDir)
	assert.Equal(t, 5, cfg.Storage.MaxUploadMB)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Server.ServeStatic)
	assert.Equal(t, "/opt/primitive", cfg.Runner.Executable)
}

func TestLoad_DatabaseDriverOverride(t *testing.T) {
	clearEnv(t)
	dataDir := t.TempDir()
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("DATABASE_DRIVER", "sqlite")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, filepath.Join(dataDir, DatabaseFileName), cfg.Database.Path)
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		value     string
		errString string
	}{
		{name: "port", key: "APP_PORT", value: "eighty", errString: "invalid APP_PORT"},
		{name: "upload size", key: "MAX_UPLOAD_MB", value: "big", errString: "invalid MAX_UPLOAD_MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
			assert.Nil(t, cfg)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing data dir",
			mutate:    func(c *Config) { c.Storage.DataDir = "" },
			wantErr:   true,
			errString: "data_dir is required",
		},
		{
			name:      "zero upload limit",
			mutate:    func(c *Config) { c.Storage.MaxUploadMB = 0 },
			wantErr:   true,
			errString: "max_upload_mb",
		},
		{
			name:      "missing executable",
			mutate:    func(c *Config) { c.Runner.Executable = "" },
			wantErr:   true,
			errString: "runner executable is required",
		},
		{
			name:      "sqlite without path",
			mutate:    func(c *Config) { c.Database.Path = "" },
			wantErr:   true,
			errString: "database path is required",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Database.Port = 5432
				c.Database.Database = "primitive_db"
			},
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name: "postgres with invalid port",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Database.Host = "localhost"
				c.Database.Port = 0
				c.Database.Database = "primitive_db"
			},
			wantErr:   true,
			errString: "invalid database port",
		},
		{
			name: "postgres without database name",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Database.Host = "localhost"
				c.Database.Port = 5432
			},
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Database.Driver = "mysql" },
			wantErr:   true,
			errString: "unsupported database driver",
		},
		{
			name:      "unknown worker mode",
			mutate:    func(c *Config) { c.Worker.Mode = "kafka" },
			wantErr:   true,
			errString: "unsupported worker mode",
		},
		{
			name: "rabbitmq mode needs concurrency",
			mutate: func(c *Config) {
				c.Worker.Mode = "rabbitmq"
				c.Worker.Concurrency = 0
			},
			wantErr:   true,
			errString: "worker concurrency must be greater than 0",
		},
		{
			name: "rabbitmq mode needs queue name",
			mutate: func(c *Config) {
				c.Worker.Mode = "rabbitmq"
				c.RabbitMQ.Queue.Name = ""
			},
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name: "rabbitmq settings ignored in local mode",
			mutate: func(c *Config) {
				c.RabbitMQ.Host = ""
			},
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			wantErr:   true,
			errString: "shutdown_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Database.Path = "/data/primitive.db"
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
