package web

import (
	"embed"
	"io/fs"
)

//go:embed public
var embeddedFS embed.FS

// PublicFS strips the "public" prefix so paths are "index.html", "app.js", etc.
var PublicFS, _ = fs.Sub(embeddedFS, "public")
