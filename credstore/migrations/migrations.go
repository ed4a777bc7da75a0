// Package migrations embeds the sql files used to create the credential
// store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
