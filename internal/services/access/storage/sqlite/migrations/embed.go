package migrations

import "embed"

// FS contains embedded SQLite migrations for access storage.
//
//go:embed *.sql
var FS embed.FS
