package static

import (
	"embed"
	"io/fs"
)

//go:embed all:dist
var distFS embed.FS

// Open opens a file from the embedded dist directory.
func Open(name string) (fs.File, error) {
	return distFS.Open("dist/" + name)
}
