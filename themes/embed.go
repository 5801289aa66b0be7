// Package themes embeds the themes shipped with chumtheme. Each directory
// holds one theme's style.js.
package themes

import "embed"

//go:embed pesterchum win95chum
var FS embed.FS
