package migrations

import "embed"

// FS contains embedded SQLite migrations for recruitment storage.
//
//go:embed *.sql
var FS embed.FS
