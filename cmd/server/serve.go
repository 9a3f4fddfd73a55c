package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/nexusflow/backend/internal/application/services"
	"github.com/nexusflow/backend/internal/config"
	"github.com/nexusflow/backend/internal/domain/ports"
	"github.com/nexusflow/backend/internal/infrastructure/notify"
	"github.com/nexusflow/backend/internal/interfaces/rest"
	"github.com/nexusflow/backend/pkg/auth"
)

var (
	serveTemplates []string
	serveDemoOrg   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, event stream and schedulers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveTemplates, "template", nil, "template YAML file to import on startup (repeatable)")
	serveCmd.Flags().StringVar(&serveDemoOrg, "demo-org", "demo", "organization seeded into the in-memory store")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	store, closeStore, err := openStore(ctx, cfg, serveDemoOrg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	svcMgr := services.NewServiceManager(store, newEmailSender(cfg), managerOptions(cfg))
	log.Println("🔧 Service manager initialized")

	for _, path := range serveTemplates {
		if err := importTemplateFile(ctx, svcMgr, path); err != nil {
			return err
		}
	}

	if err := svcMgr.Start(ctx); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := rest.NewRouter(svcMgr, auth.NewAuthenticator(cfg.JWTSecret))

	log.Println("═══════════════════════════════════════════════════════════════════════════")
	log.Printf("🚀 NexusFlow %s started", version)
	log.Println("═══════════════════════════════════════════════════════════════════════════")
	log.Printf("📍 Server:         http://localhost:%s", cfg.Port)
	log.Printf("📡 Event stream:   http://localhost:%s/api/events/stream", cfg.Port)
	log.Printf("💚 Health check:   http://localhost:%s/health", cfg.Port)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			svcMgr.Stop()
			return fmt.Errorf("failed to start server: %w", err)
		}
	}
	log.Println("Shutting down server...")

	// Closes open event streams; Shutdown waits for them otherwise
	svcMgr.Stop()
	log.Println("🛑 Engine services stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server exiting")
	return nil
}

func managerOptions(cfg *config.Config) services.ManagerOptions {
	return services.ManagerOptions{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		ReminderUnit:      cfg.ReminderUnit(),
		MaxIterations:     cfg.AutoExec.MaxIterations,
		ClientVersion:     version,
		Dispatcher: services.DispatcherOptions{
			WebhookTimeout: cfg.WebhookTimeout(),
		},
		Scheduler: services.SchedulerOptions{
			Enabled:     cfg.Scheduler.Enabled,
			MaxAttempts: cfg.Scheduler.MaxAttempts,
			Backoff:     cfg.SchedulerBackoff(),
		},
	}
}

func newEmailSender(cfg *config.Config) ports.EmailSender {
	if cfg.SMTP.Host == "" {
		log.Println("📧 SMTP_HOST not set; outgoing mail is logged only")
		return notify.NewLogSender()
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
}
