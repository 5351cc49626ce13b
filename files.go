package access

import (
	"embed"
	"io/fs"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// MigrationFiles returns the migrations rooted at the migrations directory.
func MigrationFiles() (fs.FS, error) {
	return fs.Sub(migrationsFS, "data/sql/migrations")
}
