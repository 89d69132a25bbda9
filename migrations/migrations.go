// Package migrations embeds the SQL schema so binaries can apply it from
// any working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
