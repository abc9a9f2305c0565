package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/erazemk/orozarna/internal/auth"
	"github.com/erazemk/orozarna/internal/config"
	"github.com/erazemk/orozarna/internal/db"
)

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the databases and the admin account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd.Context())
			if _, err := os.Stat(cfg.Database); !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("database file %s already exists", cfg.Database)
			}

			password, err := initDatabases(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printInitResult(cfg.Database, cfg.AdminUser, password)
			return nil
		},
	}
}

// initDatabases creates both databases and the admin account, removing the
// primary database again if anything fails.
func initDatabases(ctx context.Context, cfg *config.Config) (string, error) {
	database, err := db.Open(cfg.Database)
	if err != nil {
		return "", fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	fail := func(err error) (string, error) {
		database.Close()
		os.Remove(cfg.Database)
		return "", err
	}

	if err := db.EnsureSchema(database); err != nil {
		return fail(fmt.Errorf("ensuring schema: %w", err))
	}

	auditDB, err := db.Open(cfg.AuditDatabase)
	if err != nil {
		return fail(fmt.Errorf("opening audit database: %w", err))
	}
	defer auditDB.Close()
	if err := db.EnsureAuditSchema(auditDB); err != nil {
		return fail(fmt.Errorf("ensuring audit schema: %w", err))
	}

	password, err := auth.NewAccounts(database, "", nil, nil).EnsureAdmin(ctx, cfg.AdminUser)
	if err != nil {
		return fail(fmt.Errorf("creating admin user: %w", err))
	}
	return password, nil
}

// printInitResult prints the database initialization result to stdout.
func printInitResult(dbPath, username, password string) {
	fmt.Printf("Database created: %s\n", dbPath)
	fmt.Println("Schema initialized.")
	fmt.Println()
	fmt.Println("Admin account created:")
	fmt.Printf("  Username: %s\n", username)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("The admin can change it after logging in.")
}
