package db

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// getMigrationsFS returns the filesystem holding the SQL migrations. The
// files are compiled into the binary so deployed units never depend on a
// source checkout being present.
func getMigrationsFS() (fs.FS, error) {
	return embeddedMigrations, nil
}
