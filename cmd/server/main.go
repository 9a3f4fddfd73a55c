package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexusflow/backend/internal/config"
	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/internal/domain/ports"
	"github.com/nexusflow/backend/internal/infrastructure/database"
	"github.com/nexusflow/backend/internal/infrastructure/persistence"
)

// Version is set at build time via ldflags.
var version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:           "nexusflow",
	Short:         "NexusFlow workflow execution engine",
	Long:          "nexusflow runs flow templates: it advances runs, executes automation steps, fires recurring schedules and streams run events.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file before reading config")
	rootCmd.AddCommand(serveCmd, importTemplateCmd, migrateCmd, wipeCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return cfg, nil
}

// openSQLStore connects to TiDB/MySQL. The returned func closes the pool.
func openSQLStore(ctx context.Context, cfg *config.Config) (*persistence.SQLStore, func(), error) {
	conn, err := database.Open(ctx, database.Config{
		Host:     cfg.TiDB.Host,
		Port:     cfg.TiDB.Port,
		User:     cfg.TiDB.User,
		Password: cfg.TiDB.Password,
		Database: cfg.TiDB.Database,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Println("✅ Database connection established")
	closer := func() {
		if err := conn.Close(); err != nil {
			log.Printf("⚠️ Failed to close database: %v", err)
		}
	}
	return persistence.NewSQLStore(conn.DB()), closer, nil
}

// openStore returns the configured store with its schema in place
func openStore(ctx context.Context, cfg *config.Config, demoOrg string) (ports.FlowStore, func(), error) {
	if cfg.DBDriver == config.DriverMemory {
		store := persistence.NewMemoryStore()
		if demoOrg != "" {
			store.AddOrganization(&models.Organization{ID: demoOrg, Name: "Demo Workspace"})
			store.AddUser(&models.User{ID: demoOrg + "-admin", OrganizationID: demoOrg, Name: "Demo Admin", Email: "admin@" + demoOrg + ".local", Role: models.UserRoleAdmin})
			log.Printf("⚠️ Using in-memory store with demo organization %q; data is lost on exit", demoOrg)
		}
		return store, func() {}, nil
	}

	store, closer, err := openSQLStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		closer()
		return nil, nil, err
	}
	return store, closer, nil
}
