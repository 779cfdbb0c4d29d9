package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Redis         RedisConfig         `json:"redis"`
	Security      SecurityConfig      `json:"security"`
	Logging       LoggingConfig       `json:"logging"`
	Workflow      WorkflowConfig      `json:"workflow"`
	Notifications NotificationsConfig `json:"notifications"`
	Dashboard     DashboardConfig     `json:"dashboard"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver         string        `json:"driver"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	Path           string        `json:"path"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// RedisConfig locates the notification queue broker
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string        `json:"jwt_secret"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// WorkflowConfig tunes the transition engine
type WorkflowConfig struct {
	EnforceRequiredRole bool   `json:"enforce_required_role"`
	RequestBaseURL      string `json:"request_base_url"`
}

// NotificationsConfig selects how station events reach people
type NotificationsConfig struct {
	Provider  string        `json:"provider"`
	Queue     string        `json:"queue"`
	QueueName string        `json:"queue_name"`
	QueueSize int           `json:"queue_size"`
	Workers   int           `json:"workers"`
	Timeout   time.Duration `json:"timeout"`
	Chat      ChatConfig    `json:"chat"`
	AWS       AWSConfig     `json:"aws"`
}

// ChatConfig is the form-post messaging gateway
type ChatConfig struct {
	URL      string `json:"url"`
	User     string `json:"user"`
	Password string `json:"password"`
	Method   string `json:"method"`
}

// AWSConfig is used by the SNS and SES providers
type AWSConfig struct {
	Region string `json:"region"`
	Sender string `json:"sender"`
}

// DashboardConfig
type DashboardConfig struct {
	CacheTTL time.Duration `json:"cache_ttl"`
}

// SchedulerConfig drives the stale request reminder sweep
type SchedulerConfig struct {
	ReminderCron string        `json:"reminder_cron"`
	StaleAfter   time.Duration `json:"stale_after"`
}

// Notification providers and queues
const (
	ProviderChat = "chat"
	ProviderSNS  = "sns"
	ProviderSES  = "ses"
	ProviderLog  = "log"

	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "service_desk",
			SSLMode:        "disable",
			Path:           "service_desk.db",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Security: SecurityConfig{
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Workflow: WorkflowConfig{
			EnforceRequiredRole: true,
		},
		Notifications: NotificationsConfig{
			Provider:  ProviderLog,
			Queue:     QueueMemory,
			QueueName: "service-desk:notifications",
			QueueSize: 256,
			Workers:   2,
			Timeout:   20 * time.Second,
			Chat: ChatConfig{
				Method: "Chat",
			},
		},
		Dashboard: DashboardConfig{
			CacheTTL: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			ReminderCron: "0 0 8 * * *",
			StaleAfter:   48 * time.Hour,
		},
	}
}

// LoadConfig loads configuration from .env, the config file and environment variables, in
// increasing precedence
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := Default()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the services cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Notifications.Provider {
	case ProviderChat:
		if c.Notifications.Chat.URL == "" {
			return errors.New("notifications.chat.url is required for the chat provider")
		}
	case ProviderSNS:
	case ProviderSES:
		if c.Notifications.AWS.Sender == "" {
			return errors.New("notifications.aws.sender is required for the ses provider")
		}
	case ProviderLog:
	default:
		return fmt.Errorf("unsupported notification provider %q", c.Notifications.Provider)
	}
	switch c.Notifications.Queue {
	case QueueMemory, QueueRedis:
	default:
		return fmt.Errorf("unsupported notification queue %q", c.Notifications.Queue)
	}
	if c.Notifications.Workers < 1 {
		return errors.New("notifications.workers must be at least 1")
	}
	if c.Security.JWTSecret == "" {
		return errors.New("security.jwt_secret is required")
	}
	return nil
}

func overrideWithEnv(config *Config) error {
	var err error
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" && err == nil {
			var n int
			if n, err = strconv.Atoi(v); err != nil {
				err = fmt.Errorf("invalid %s: %w", key, err)
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" && err == nil {
			var b bool
			if b, err = strconv.ParseBool(v); err != nil {
				err = fmt.Errorf("invalid %s: %w", key, err)
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" && err == nil {
			var d time.Duration
			if d, err = time.ParseDuration(v); err != nil {
				err = fmt.Errorf("invalid %s: %w", key, err)
				return
			}
			*dst = d
		}
	}

	setString("SERVER_HOST", &config.Server.Host)
	setInt("SERVER_PORT", &config.Server.Port)

	setString("DATABASE_DRIVER", &config.Database.Driver)
	setString("DATABASE_HOST", &config.Database.Host)
	setInt("DATABASE_PORT", &config.Database.Port)
	setString("DATABASE_USER", &config.Database.User)
	setString("DATABASE_PASSWORD", &config.Database.Password)
	setString("DATABASE_DBNAME", &config.Database.DBName)
	setString("DATABASE_SSLMODE", &config.Database.SSLMode)
	setString("DATABASE_PATH", &config.Database.Path)

	setString("REDIS_ADDR", &config.Redis.Addr)
	setString("REDIS_PASSWORD", &config.Redis.Password)
	setInt("REDIS_DB", &config.Redis.DB)

	setString("JWT_SECRET", &config.Security.JWTSecret)
	setDuration("JWT_TOKEN_TTL", &config.Security.TokenTTL)

	setString("LOG_LEVEL", &config.Logging.Level)
	setBool("LOG_DEVELOPMENT", &config.Logging.Development)

	setBool("WORKFLOW_ENFORCE_REQUIRED_ROLE", &config.Workflow.EnforceRequiredRole)
	setString("REQUEST_BASE_URL", &config.Workflow.RequestBaseURL)

	setString("NOTIFICATION_PROVIDER", &config.Notifications.Provider)
	setString("NOTIFICATION_QUEUE", &config.Notifications.Queue)
	setInt("NOTIFICATION_WORKERS", &config.Notifications.Workers)
	setDuration("NOTIFICATION_TIMEOUT", &config.Notifications.Timeout)
	setString("CHAT_API_URL", &config.Notifications.Chat.URL)
	setString("CHAT_API_USER", &config.Notifications.Chat.User)
	setString("CHAT_API_PASSWORD", &config.Notifications.Chat.Password)
	setString("CHAT_API_METHOD", &config.Notifications.Chat.Method)
	setString("AWS_REGION", &config.Notifications.AWS.Region)
	setString("NOTIFICATION_SENDER", &config.Notifications.AWS.Sender)

	setDuration("DASHBOARD_CACHE_TTL", &config.Dashboard.CacheTTL)
	setString("REMINDER_CRON", &config.Scheduler.ReminderCron)
	setDuration("REMINDER_STALE_AFTER", &config.Scheduler.StaleAfter)

	return err
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
