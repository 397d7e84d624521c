// Package migrations embeds the SQL schema applied by cmd/api's
// auto-migrate step and by cmd/migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
