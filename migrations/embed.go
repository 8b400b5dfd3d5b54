package migrations

import "embed"

// Files holds the ordered SQL migrations applied by db.Migrate.
//
//go:embed *.sql
var Files embed.FS
