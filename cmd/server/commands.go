package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexusflow/backend/internal/application/services"
	"github.com/nexusflow/backend/pkg/auth"
)

// --- import-template ---

var importTemplateCmd = &cobra.Command{
	Use:   "import-template [template.yaml...]",
	Short: "Validate template YAML files and save them to the database",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImportTemplate,
}

func runImportTemplate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	store, closeStore, err := openStore(ctx, cfg, "")
	if err != nil {
		return err
	}
	defer closeStore()

	svcMgr := services.NewServiceManager(store, newEmailSender(cfg), managerOptions(cfg))
	for _, path := range args {
		if err := importTemplateFile(ctx, svcMgr, path); err != nil {
			return err
		}
	}
	return nil
}

func importTemplateFile(ctx context.Context, svcMgr *services.ServiceManager, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", path, err)
	}
	tpl, err := services.ParseTemplateYAML(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := svcMgr.ImportTemplate(ctx, tpl); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the engine tables that do not exist yet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		store, closeStore, err := openSQLStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		return store.EnsureSchema(ctx)
	},
}

// --- wipe ---

var wipeConfirm bool

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Drop every engine table (destroys all runs, templates and schedules)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !wipeConfirm {
			return fmt.Errorf("refusing to wipe without --yes")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		store, closeStore, err := openSQLStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		log.Printf("🧹 Wiping database: %s", cfg.TiDB.Database)
		if err := store.DropSchema(ctx); err != nil {
			return err
		}
		log.Println("✨ Database wiped")
		return nil
	},
}

// --- token ---

var (
	tokenUser string
	tokenOrg  string
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed bearer token for local testing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := auth.NewAuthenticator(cfg.JWTSecret).WithTTL(tokenTTL).GenerateToken(auth.UserSession{
			ID:             tokenUser,
			OrganizationID: tokenOrg,
			Role:           tokenRole,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	wipeCmd.Flags().BoolVar(&wipeConfirm, "yes", false, "confirm dropping all engine tables")

	tokenCmd.Flags().StringVar(&tokenUser, "user", "demo-admin", "user id carried by the token")
	tokenCmd.Flags().StringVar(&tokenOrg, "org", "demo", "organization id carried by the token")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "ADMIN", "role carried by the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.TokenTTL, "token lifetime")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
