// Package migrations holds the engine database schema.
package migrations

import "embed"

// FS contains the golang-migrate SQL files.
//
//go:embed *.sql
var FS embed.FS
