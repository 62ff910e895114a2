package migrations

import "embed"

// FS contains embedded Postgres migrations for recruitment storage.
//
//go:embed *.sql
var FS embed.FS
