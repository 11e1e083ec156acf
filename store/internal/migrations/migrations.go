// Package migrations loads the versioned SQL files embedded by the SQL
// store backends and applies the ones a database has not seen yet.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/xraph/cuttrack"
)

// File is one migration script. Name orders files and is what the
// tracking table records.
type File struct {
	Name string
	SQL  string
}

// Load reads every .sql file in dir of fsys, ordered by name.
func Load(fsys fs.FS, dir string) ([]File, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var files []File
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		files = append(files, File{Name: e.Name(), SQL: string(data)})
	}
	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Name, b.Name) })
	return files, nil
}

// Backend is what Apply needs from a database.
type Backend interface {
	// Applied reports whether the named file was already recorded.
	Applied(ctx context.Context, name string) (bool, error)
	// Run executes the script and records its name atomically.
	Run(ctx context.Context, f File) error
}

// Apply runs, in order, every file the backend has not applied. A failed
// file is wrapped in cuttrack.ErrMigrationFailed and stops the run.
func Apply(ctx context.Context, b Backend, files []File, logger *slog.Logger) error {
	for _, f := range files {
		done, err := b.Applied(ctx, f.Name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", f.Name, err)
		}
		if done {
			continue
		}
		if err := b.Run(ctx, f); err != nil {
			return fmt.Errorf("%w: %s: %w", cuttrack.ErrMigrationFailed, f.Name, err)
		}
		logger.Info("applied migration", slog.String("file", f.Name))
	}
	return nil
}
