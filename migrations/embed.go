// Package migrations embeds the audit trail schema into the binary.
package migrations

import "embed"

// FS holds the NNNN_name.up.sql / .down.sql files at its root.
//
//go:embed *.sql
var FS embed.FS
