// Package migrations embeds the goose SQL migrations for the attempt archive.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
