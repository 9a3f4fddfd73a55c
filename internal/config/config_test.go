package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverMySQL, cfg.DBDriver)
	assert.Equal(t, "nexusflow", cfg.TiDB.Database)
	assert.Equal(t, "4000", cfg.TiDB.Port)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.SchedulerBackoff())
	assert.Equal(t, 50, cfg.AutoExec.MaxIterations)
	assert.Equal(t, 30*time.Second, cfg.WebhookTimeout())
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, time.Hour, cfg.ReminderUnit())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("TIDB_HOST", "db.internal")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("SCHEDULER_MAX_ATTEMPTS", "5")
	t.Setenv("AUTOEXEC_MAX_ITERATIONS", "10")
	t.Setenv("HEARTBEAT_INTERVAL_SECONDS", "5")
	t.Setenv("REMINDER_UNIT_SECONDS", "2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.DBDriver)
	assert.Equal(t, "db.internal", cfg.TiDB.Host)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 5, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 10, cfg.AutoExec.MaxIterations)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 2*time.Second, cfg.ReminderUnit())
}

func TestLoadConfigFileAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("port: \"9090\"\nsmtp:\n  host: mail.example.com\n"), 0o600))
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("JWT_SECRET=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("JWT_SECRET") })

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "mail.example.com", cfg.SMTP.Host)
	assert.Equal(t, "from-file", cfg.JWTSecret)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{DBDriver: DriverMemory, JWTSecret: "x"}
		cfg.Scheduler.MaxAttempts = 1
		cfg.AutoExec.MaxIterations = 1
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "postgres" }, wantErr: "unsupported DB_DRIVER"},
		{name: "missing secret", mutate: func(c *Config) { c.JWTSecret = "" }, wantErr: "JWT_SECRET"},
		{name: "zero attempts", mutate: func(c *Config) { c.Scheduler.MaxAttempts = 0 }, wantErr: "SCHEDULER_MAX_ATTEMPTS"},
		{name: "zero iterations", mutate: func(c *Config) { c.AutoExec.MaxIterations = 0 }, wantErr: "AUTOEXEC_MAX_ITERATIONS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
