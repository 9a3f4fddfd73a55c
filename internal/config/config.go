package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every runtime knob of the server
type Config struct {
	Port      string `mapstructure:"port"`
	DBDriver  string `mapstructure:"db_driver"`
	JWTSecret string `mapstructure:"jwt_secret"`

	TiDB struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Database string `mapstructure:"database"`
	} `mapstructure:"tidb"`

	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"smtp"`

	Scheduler struct {
		Enabled     bool `mapstructure:"enabled"`
		MaxAttempts int  `mapstructure:"max_attempts"`
		BackoffMs   int  `mapstructure:"backoff_ms"`
	} `mapstructure:"scheduler"`

	AutoExec struct {
		MaxIterations int `mapstructure:"max_iterations"`
	} `mapstructure:"autoexec"`

	Webhook struct {
		TimeoutMs int `mapstructure:"timeout_ms"`
	} `mapstructure:"webhook"`

	Heartbeat struct {
		IntervalSeconds int `mapstructure:"interval_seconds"`
	} `mapstructure:"heartbeat"`

	// Length of one step-timer hour in seconds; zero means a real hour
	ReminderUnitSeconds int `mapstructure:"reminder_unit_seconds"`
}

// Database drivers
const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Load reads configuration from an optional .env file, an optional
// config.yaml and the environment. Env keys use the flat form, e.g.
// TIDB_HOST or SCHEDULER_MAX_ATTEMPTS.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		log.Printf("📁 Loaded environment from %s", envFile)
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("⚠️ Failed to load .env: %v", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_driver", DriverMySQL)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("tidb.host", "127.0.0.1")
	v.SetDefault("tidb.port", "4000")
	v.SetDefault("tidb.user", "root")
	v.SetDefault("tidb.password", "")
	v.SetDefault("tidb.database", "nexusflow")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", "587")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "no-reply@nexusflow.local")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.backoff_ms", 2000)
	v.SetDefault("autoexec.max_iterations", 50)
	v.SetDefault("webhook.timeout_ms", 30000)
	v.SetDefault("heartbeat.interval_seconds", 30)
	v.SetDefault("reminder_unit_seconds", 0)
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverMySQL, DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want %s or %s)", c.DBDriver, DriverMySQL, DriverMemory)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("SCHEDULER_MAX_ATTEMPTS must be at least 1, got %d", c.Scheduler.MaxAttempts)
	}
	if c.AutoExec.MaxIterations < 1 {
		return fmt.Errorf("AUTOEXEC_MAX_ITERATIONS must be at least 1, got %d", c.AutoExec.MaxIterations)
	}
	return nil
}

// SchedulerBackoff is the delay before the first retry of a failed scheduled run
func (c *Config) SchedulerBackoff() time.Duration {
	return time.Duration(c.Scheduler.BackoffMs) * time.Millisecond
}

// WebhookTimeout bounds one outbound webhook call
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutMs) * time.Millisecond
}

// HeartbeatInterval is the SSE keep-alive period
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.IntervalSeconds) * time.Second
}

// ReminderUnit is the duration one configured "hour" of a step timer lasts
func (c *Config) ReminderUnit() time.Duration {
	if c.ReminderUnitSeconds > 0 {
		return time.Duration(c.ReminderUnitSeconds) * time.Second
	}
	return time.Hour
}
