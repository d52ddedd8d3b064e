package repository

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

// RunMigrations executes every .sql file in fsys in lexical order. The
// serve and migrate commands run it against an on-disk directory; the
// integration suite feeds it the embedded copy.
func RunMigrations(db *sql.DB, fsys fs.FS, dir string, logger *slog.Logger) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		migrationSQL, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := db.Exec(string(migrationSQL)); err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}

		logger.Info("Migration applied", "migration", entry.Name())
	}

	return nil
}
