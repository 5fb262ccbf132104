package progressmate

import "embed"

// MigrationsFS holds the Postgres schema migrations applied on startup.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
