// Package assets embeds the SQL migrations applied by the SQLite store.
package assets

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var FS embed.FS

// MigrationsDir is the root of the migration files inside FS.
const MigrationsDir = "migrations"

// Migrations lists the migration file paths of fsys in apply order.
func Migrations(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, MigrationsDir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			continue
		}
		out = append(out, MigrationsDir+"/"+e.Name())
	}
	sort.Strings(out)
	return out, nil
}
