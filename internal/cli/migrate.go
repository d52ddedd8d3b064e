package cli

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	_ "github.com/lib/pq"

	"exchange-core/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

		cfg := getConfig()
		db, err := sql.Open("postgres", cfg.GetDBConnectionString())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Ping(); err != nil {
			return err
		}

		path := cfg.Database.MigrationsPath
		return repository.RunMigrations(db, os.DirFS(filepath.Dir(path)), filepath.Base(path), logger)
	},
}
