// Package workdir manages ephemeral per-task working directories.
package workdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

// Prefix starts the name of every directory created by this package.
const Prefix = "pwd-"

// Dir is a uniquely named temporary directory owned by one task.
type Dir struct {
	path    string
	ctx     context.Context
	loggers []*slog.Logger
}

// Create makes a new directory under base. An empty base means os.TempDir().
// Cleanup failures are reported with ctx to logger, if any, and to the
// process default logger, since a leaked directory outlives the task.
func Create(ctx context.Context, base string, logger *slog.Logger) (*Dir, error) {
	if base == "" {
		base = os.TempDir()
	}
	path := filepath.Join(base, Prefix+uuid.New().String())
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	d := &Dir{path: path, ctx: ctx}
	if logger != nil {
		d.loggers = append(d.loggers, logger)
	}
	d.loggers = append(d.loggers, slog.Default())
	return d, nil
}

// Path returns the absolute directory path.
func (d *Dir) Path() string {
	return d.path
}

// Close deletes the directory and everything below it. Failures are logged
// and never returned, so cleanup cannot mask a task's result.
func (d *Dir) Close() {
	if err := removeTree(d.path); err != nil {
		for _, logger := range d.loggers {
			logger.ErrorContext(d.ctx, "Directory cleanup failed.", "dir", d.path, "cause", err)
		}
	}
}

// With creates a directory under base, calls fn with its path, and deletes the
// directory afterwards, even if fn panics. It returns fn's error, or the error
// from creating the directory.
func With(ctx context.Context, base string, logger *slog.Logger, fn func(dir string) error) error {
	d, err := Create(ctx, base, logger)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(d.path)
}

// removeTree deletes root bottom up: entries are removed in reverse lexical
// order, so every directory is empty by the time it is removed. Entries whose
// parent is not writable are retried after granting the owner write access.
func removeTree(root string) error {
	var paths []string
	var errs []error
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root && os.Chmod(path, 0o700) == nil {
				// Unreadable directory, now readable.
				if err := removeTree(path); err != nil {
					errs = append(errs, err)
				}
				return fs.SkipDir
			}
			errs = append(errs, err)
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if chmodErr := os.Chmod(filepath.Dir(path), 0o700); chmodErr == nil {
				err = os.Remove(path)
			}
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
