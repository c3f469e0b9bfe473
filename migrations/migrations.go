// Package migrations embeds the warehouse provisioning scripts.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
