// Package migrations embeds the user-stats-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
