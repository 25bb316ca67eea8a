// Package migrations embeds the auth service's SQL migrations.
package migrations

import "embed"

// FS holds the *.up.sql files applied at start-up by database.RunMigrations.
//
//go:embed *.sql
var FS embed.FS
