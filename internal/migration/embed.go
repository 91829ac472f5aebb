package migration

import "embed"

//go:embed migrations/sqlite3/*.sql migrations/postgres/*.sql
var MigrationsFS embed.FS
