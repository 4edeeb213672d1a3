package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bookstore/internal/util"
	"bookstore/pkg/report"
	"bookstore/pkg/store"
	"bookstore/services/api/internal/app"
	"bookstore/services/api/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bookstorectl",
	Short: "Operational commands for the bookstore API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		util.InitLogger(cfg.LogLevel)
		cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
		return nil
	},
	SilenceUsage: true,
}

type configKey struct{}

func loadedConfig(cmd *cobra.Command) config.FileConfig {
	cfg, _ := cmd.Context().Value(configKey{}).(config.FileConfig)
	return cfg
}

// withUnitOfWork opens the database and hands fn a unit of work that owns the
// connection.
func withUnitOfWork(cmd *cobra.Command, fn func(*store.UnitOfWork) error) error {
	db, err := store.Open(loadedConfig(cmd).DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	uow := store.NewUnitOfWork(db, store.OwnConnection())
	defer uow.Close()
	return fn(uow)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and seed roles.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnitOfWork(cmd, func(uow *store.UnitOfWork) error {
			db, err := uow.DB(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.Migrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			slog.Info("migrations applied")
			return nil
		})
	},
}

var adminInput app.RegisterInput

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an Admin account.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnitOfWork(cmd, func(uow *store.UnitOfWork) error {
			user, err := app.CreateAdmin(cmd.Context(), uow, adminInput)
			if err != nil {
				return err
			}
			slog.Info("admin created", "user_id", user.ID, "username", user.Username)
			return nil
		})
	},
}

var exportOut string

var exportBooksCmd = &cobra.Command{
	Use:   "export-books",
	Short: "Write the book sales workbook.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnitOfWork(cmd, func(uow *store.UnitOfWork) error {
			rows, err := app.LoadBookSales(cmd.Context(), uow)
			if err != nil {
				return err
			}
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", exportOut, err)
			}
			if err := report.WriteBookSales(f, rows, time.Now().UTC()); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			slog.Info("book sales exported", "path", exportOut, "books", len(rows))
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (defaults to BOOKSTORE_CONFIG)")

	createAdminCmd.Flags().StringVar(&adminInput.Email, "email", "", "admin email")
	createAdminCmd.Flags().StringVar(&adminInput.Username, "username", "", "admin username")
	createAdminCmd.Flags().StringVar(&adminInput.Password, "password", "", "admin password")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("username")
	_ = createAdminCmd.MarkFlagRequired("password")

	exportBooksCmd.Flags().StringVar(&exportOut, "out", "book-sales.xlsx", "output file")

	rootCmd.AddCommand(migrateCmd, createAdminCmd, exportBooksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
