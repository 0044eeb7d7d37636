package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"bankrupt_bot/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	actions := []struct {
		use   string
		short string
		run   func(db *sql.DB, dir string) error
	}{
		{"up", "Migrate to the latest version", func(db *sql.DB, dir string) error { return goose.Up(db, dir) }},
		{"up-one", "Migrate one version up", func(db *sql.DB, dir string) error { return goose.UpByOne(db, dir) }},
		{"down", "Roll back one version", func(db *sql.DB, dir string) error { return goose.Down(db, dir) }},
		{"status", "Show migration status", func(db *sql.DB, dir string) error { return goose.Status(db, dir) }},
		{"version", "Show current version", func(db *sql.DB, dir string) error { return goose.Version(db, dir) }},
		{"reset", "Roll back all migrations", func(db *sql.DB, dir string) error { return goose.Reset(db, dir) }},
	}
	for _, a := range actions {
		migrateCmd.AddCommand(&cobra.Command{
			Use:   a.use,
			Short: a.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigration(a.use, a.run)
			},
		})
	}
}

func runMigration(name string, run func(db *sql.DB, dir string) error) error {
	path := viper.GetString("database_path")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		return err
	}
	goose.SetLogger(log.New(os.Stdout, "", 0))

	if err := run(db, "."); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
