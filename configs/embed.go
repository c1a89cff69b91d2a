// Package configs embeds the built-in variant catalogs and the default tuning file.
package configs

import "embed"

//go:embed tuning.yaml variants/*.yaml
var FS embed.FS
