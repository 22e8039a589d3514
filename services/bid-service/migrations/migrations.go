// Package migrations embeds the bid-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
