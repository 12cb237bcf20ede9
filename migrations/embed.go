// Package migrations embeds the SQL schema for each supported backend.
package migrations

import "embed"

// FS holds one directory of ordered migration files per dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
