// Package migrations holds the schema scripts applied when no migration
// folder is configured. The scripts live in sql/ so that directory can also
// be used as database.migration.folder.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var embedded embed.FS

// Files exposes the scripts at its root.
var Files = mustSub(embedded, "sql")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
