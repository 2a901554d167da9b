// Package migrations embeds the SQL migration files into the binary.
//
// Importing it (for side effects) registers the files with the database
// package.
package migrations

import (
	"embed"

	"github.com/nerrad567/rako-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
