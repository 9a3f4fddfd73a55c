package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/backend/internal/application/services"
	"github.com/nexusflow/backend/internal/config"
	"github.com/nexusflow/backend/internal/infrastructure/notify"
	"github.com/nexusflow/backend/internal/infrastructure/persistence"
	"github.com/nexusflow/backend/pkg/auth"
)

func useMemoryEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("DB_DRIVER", config.DriverMemory)
}

func TestTokenCommand(t *testing.T) {
	useMemoryEnv(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--org", "org-7", "--user", "u-7", "--ttl", "1h"})
	require.NoError(t, rootCmd.Execute())

	claims, err := auth.NewAuthenticator("cli-secret").ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "org-7", claims.User.OrganizationID)
	assert.Equal(t, "u-7", claims.User.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestWipeRequiresConfirmation(t *testing.T) {
	useMemoryEnv(t)

	rootCmd.SetArgs([]string{"wipe"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestImportTemplateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "onboarding.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: tpl-cli
organization_id: demo
name: CLI onboarding
status: ACTIVE
definition:
  steps:
    - id: call
      name: Call
      type: TODO
`), 0o600))

	store := persistence.NewMemoryStore()
	svcMgr := services.NewServiceManager(store, notify.NewLogSender(), services.ManagerOptions{HeartbeatInterval: time.Hour})

	require.NoError(t, importTemplateFile(context.Background(), svcMgr, path))
	tpl, err := store.GetTemplate(context.Background(), "tpl-cli")
	require.NoError(t, err)
	assert.Equal(t, "CLI onboarding", tpl.Name)

	assert.Error(t, importTemplateFile(context.Background(), svcMgr, filepath.Join(dir, "missing.yaml")))
}

func TestOpenMemoryStoreSeedsDemoOrganization(t *testing.T) {
	cfg := &config.Config{DBDriver: config.DriverMemory}

	store, closeStore, err := openStore(context.Background(), cfg, "demo")
	require.NoError(t, err)
	defer closeStore()

	org, err := store.GetOrganization(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "Demo Workspace", org.Name)

	user, err := store.FindAttributingUser(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "demo-admin", user.ID)
}

func TestManagerOptions(t *testing.T) {
	cfg := &config.Config{}
	cfg.AutoExec.MaxIterations = 10
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.MaxAttempts = 4
	cfg.Scheduler.BackoffMs = 500
	cfg.Webhook.TimeoutMs = 1500
	cfg.Heartbeat.IntervalSeconds = 15

	opts := managerOptions(cfg)
	assert.Equal(t, 10, opts.MaxIterations)
	assert.Equal(t, 15*time.Second, opts.HeartbeatInterval)
	assert.Equal(t, time.Hour, opts.ReminderUnit)
	assert.Equal(t, 1500*time.Millisecond, opts.Dispatcher.WebhookTimeout)
	assert.Equal(t, services.SchedulerOptions{Enabled: true, MaxAttempts: 4, Backoff: 500 * time.Millisecond}, opts.Scheduler)
}

func TestNewEmailSender(t *testing.T) {
	cfg := &config.Config{}
	_, isLog := newEmailSender(cfg).(*notify.LogSender)
	assert.True(t, isLog)

	cfg.SMTP.Host = "smtp.example.com"
	_, isSMTP := newEmailSender(cfg).(*notify.SMTPSender)
	assert.True(t, isSMTP)
}
