// Package migrations embeds the snapshot store schema into the binary.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
