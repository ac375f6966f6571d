package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DatabaseFileName is the SQLite file created under the data directory
	DatabaseFileName = "primitive.db"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	Runner   RunnerConfig   `yaml:"runner"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ServeStatic     bool          `yaml:"serve_static"`
	StaticDir       string        `yaml:"static_dir"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the job store backend
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
	TimeFormat   string `yaml:"time_format"`
}

// StorageConfig holds the on-disk layout for uploads and job outputs
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// UploadsDir is where uploaded source images are kept
func (s StorageConfig) UploadsDir() string {
	return filepath.Join(s.DataDir, "uploads")
}

// JobsDir holds one output directory per job
func (s StorageConfig) JobsDir() string {
	return filepath.Join(s.DataDir, "jobs")
}

// MaxUploadBytes is the upload size limit in bytes
func (s StorageConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) * 1024 * 1024
}

// RunnerConfig holds settings for driving the primitive executable
type RunnerConfig struct {
	Executable        string        `yaml:"executable"`
	NotifySendTimeout time.Duration `yaml:"notify_send_timeout"`
}

// WorkerConfig holds job dispatch configuration
type WorkerConfig struct {
	Mode            string        `yaml:"mode"`
	Concurrency     int           `yaml:"concurrency"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when no file or environment overrides are given
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "primitive-orchestrator",
			Version:     "0.1.0",
			Environment: "development",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"http://localhost:5173"},
			StaticDir:       "static",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			User:     "guest",
			Password: "guest",
			VHost:    "/",
			Exchange: ExchangeConfig{
				Name:    "primitive_jobs",
				Type:    "direct",
				Durable: true,
			},
			Queue: QueueConfig{
				Name:    "primitive_jobs",
				Durable: true,
			},
			RoutingKey: "job.run",
			Connection: ConnectionConfig{
				RetryAttempts:     5,
				RetryInterval:     2 * time.Second,
				Heartbeat:         10 * time.Second,
				ConnectionTimeout: 10 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2.0,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			TimeFormat: time.RFC3339,
		},
		Storage: StorageConfig{
			DataDir:     "/data",
			MaxUploadMB: 25,
		},
		Runner: RunnerConfig{
			Executable:        "primitive",
			NotifySendTimeout: 5 * time.Second,
		},
		Worker: WorkerConfig{
			Mode:            "local",
			Concurrency:     2,
			ShutdownTimeout: time.Minute,
		},
	}
}

// Load reads the configuration file on top of the defaults and applies
// environment overrides. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	config.resolvePaths()
	return config, nil
}

// applyEnv overrides file values with the service's environment variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("APP_ENV"); ok && v != "" {
		c.App.Environment = v
	}
	if v, ok := lookup("APP_HOST"); ok && v != "" {
		c.Server.Host = v
	}
	if v, ok := lookup("APP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid APP_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("DATA_DIR"); ok && v != "" {
		c.Storage.DataDir = v
	}
	if v, ok := lookup("DATABASE_DRIVER"); ok && v != "" {
		c.Database.Driver = v
	}
	if v, ok := lookup("MAX_UPLOAD_MB"); ok && v != "" {
		mb, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_MB %q: %w", v, err)
		}
		c.Storage.MaxUploadMB = mb
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("SERVE_STATIC"); ok && v != "" {
		c.Server.ServeStatic = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := lookup("PRIMITIVE_BIN"); ok && v != "" {
		c.Runner.Executable = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	return nil
}

// resolvePaths makes the data directory absolute and places the SQLite file inside it
func (c *Config) resolvePaths() {
	if abs, err := filepath.Abs(c.Storage.DataDir); err == nil {
		c.Storage.DataDir = abs
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.Storage.DataDir, DatabaseFileName)
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir is required")
	}

	if c.Storage.MaxUploadMB <= 0 {
		return fmt.Errorf("storage max_upload_mb must be greater than 0")
	}

	if c.Runner.Executable == "" {
		return fmt.Errorf("runner executable is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	switch c.Worker.Mode {
	case "local":
		if c.Worker.Concurrency < 0 {
			return fmt.Errorf("worker concurrency must not be negative")
		}
	case "rabbitmq":
		if c.Worker.Concurrency <= 0 {
			return fmt.Errorf("worker concurrency must be greater than 0")
		}
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported worker mode: %q", c.Worker.Mode)
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
