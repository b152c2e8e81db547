// Package migrations embeds the goose SQL migrations so they run regardless
// of working directory.
package migrations

import "embed"

// FS holds every NNNNN_name.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
