// Package migrations holds the SQL migrations of the app, applied with goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
