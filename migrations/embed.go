// Package migrations holds the engine database schema as embedded SQL files.
package migrations

import "embed"

// FS contains the numbered up/down migration files.
//
//go:embed *.sql
var FS embed.FS
