package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"agitracker/api/internal/authpw"
	"agitracker/api/internal/config"
	"agitracker/api/internal/logging"
	"agitracker/api/internal/search"
	"agitracker/api/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.Env)

	root := &cobra.Command{
		Use:           "agitracker-api",
		Short:         "AGI Tracker directory API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the outbox worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return db.Close()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sync-search",
		Short: "Rebuild the search index from the tools table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(cfg.MeiliURL) == "" {
				return fmt.Errorf("MEILI_URL is not set")
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
			defer meili.Close()
			report, err := search.NewService(meili, search.NewPgFTS(db)).ReindexAllFromPG(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Int("indexed", report.Indexed).Int("removed", report.Removed).Msg("search: resync complete")
			return nil
		},
	})

	var admin authpw.CreateAdminRequest
	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account, or reset the password of an existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := authpw.NewService(store.NewPostgresStore(db)).CreateAdmin(cmd.Context(), admin)
			if err != nil {
				return err
			}
			log.Info().Str("user_id", user.ID).Str("email", user.Email).Str("role", user.Role).Msg("auth: admin account ready")
			return nil
		},
	}
	createAdmin.Flags().StringVar(&admin.Email, "email", "", "account email")
	createAdmin.Flags().StringVar(&admin.Password, "password", "", "account password")
	createAdmin.Flags().StringVar(&admin.Name, "name", "", "display name")
	createAdmin.Flags().StringVar(&admin.Role, "role", "", "role to grant (defaults to admin)")
	_ = createAdmin.MarkFlagRequired("email")
	_ = createAdmin.MarkFlagRequired("password")
	root.AddCommand(createAdmin)

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// openDatabase connects and brings the schema up to date.
func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		log.Info().Strs("versions", applied).Msg("store: migrations applied")
	}
	return db, nil
}
