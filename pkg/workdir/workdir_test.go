package workdir

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWith_RemovesDirectory(t *testing.T) {
	base := t.TempDir()
	var seen string

	err := With(context.Background(), base, nil, func(dir string) error {
		seen = dir
		if !strings.HasPrefix(filepath.Base(dir), Prefix) {
			t.Errorf("Expected directory name to start with %q, got %s", Prefix, dir)
		}
		if filepath.Dir(dir) != base {
			t.Errorf("Expected directory under %s, got %s", base, dir)
		}
		if err := os.MkdirAll(filepath.Join(dir, "a", "b", "c"), 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, "a", "b", "c", "out.txt"), []byte("data"), 0o644)
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := os.Stat(seen); !os.IsNotExist(err) {
		t.Errorf("Expected %s to be removed, stat returned %v", seen, err)
	}
}

func TestWith_ReturnsWorkError(t *testing.T) {
	base := t.TempDir()
	want := errors.New("compile failed")
	var seen string

	err := With(context.Background(), base, nil, func(dir string) error {
		seen = dir
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("Expected work error, got %v", err)
	}
	if _, err := os.Stat(seen); !os.IsNotExist(err) {
		t.Errorf("Expected %s to be removed after failure", seen)
	}
}

func TestWith_RemovesDirectoryOnPanic(t *testing.T) {
	base := t.TempDir()
	var seen string

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("Expected panic to propagate")
			}
		}()
		_ = With(context.Background(), base, nil, func(dir string) error {
			seen = dir
			panic("boom")
		})
	}()

	if _, err := os.Stat(seen); !os.IsNotExist(err) {
		t.Errorf("Expected %s to be removed after panic", seen)
	}
}

func TestWith_UniqueDirectories(t *testing.T) {
	base := t.TempDir()
	seen := map[string]bool{}
	for range 10 {
		_ = With(context.Background(), base, nil, func(dir string) error {
			if seen[dir] {
				t.Errorf("Directory %s handed out twice", dir)
			}
			seen[dir] = true
			return nil
		})
	}
}

func TestClose_ReadOnlyTree(t *testing.T) {
	d, err := Create(context.Background(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	locked := filepath.Join(d.Path(), "locked")
	if err := os.MkdirAll(filepath.Join(locked, "inner"), 0o755); err != nil {
		t.Fatalf("Failed to create tree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(locked, "inner", "file"), []byte("x"), 0o444); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := os.Chmod(filepath.Join(locked, "inner"), 0o555); err != nil {
		t.Fatalf("Failed to chmod: %v", err)
	}
	if err := os.Chmod(locked, 0o555); err != nil {
		t.Fatalf("Failed to chmod: %v", err)
	}

	d.Close()

	if _, err := os.Stat(d.Path()); !os.IsNotExist(err) {
		t.Errorf("Expected read-only tree to be removed, stat returned %v", err)
	}
}

func TestClose_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// A Dir pointing at a path that cannot be walked reports rather than panics.
	d := &Dir{path: filepath.Join(t.TempDir(), "missing", "\x00bad"), ctx: context.Background(), loggers: []*slog.Logger{logger}}
	d.Close()

	if !strings.Contains(buf.String(), "Directory cleanup failed.") {
		t.Errorf("Expected cleanup failure to be logged, got %q", buf.String())
	}
}

func TestCreate_BaseMissing(t *testing.T) {
	_, err := Create(context.Background(), filepath.Join(t.TempDir(), "does", "not", "exist"), nil)
	if err == nil {
		t.Fatal("Expected error for missing base directory")
	}
	if !strings.Contains(err.Error(), "failed to create working directory") {
		t.Errorf("Unexpected error: %v", err)
	}
}

type ctxKey struct{}

// recordingHandler keeps the context every record was handled with.
type recordingHandler struct {
	slog.Handler
	contexts *[]context.Context
}

func (h recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	*h.contexts = append(*h.contexts, ctx)
	return h.Handler.Handle(ctx, r)
}

func TestClose_ReportsToTaskAndProcessLogger(t *testing.T) {
	var taskLog, processLog bytes.Buffer
	var processContexts []context.Context
	prev := slog.Default()
	slog.SetDefault(slog.New(recordingHandler{slog.NewTextHandler(&processLog, nil), &processContexts}))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := context.WithValue(context.Background(), ctxKey{}, "task-7")
	d, err := Create(ctx, t.TempDir(), slog.New(slog.NewTextHandler(&taskLog, nil)))
	if err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	d.path = filepath.Join(d.path, "\x00bad")
	d.Close()

	for name, buf := range map[string]*bytes.Buffer{"task": &taskLog, "process": &processLog} {
		if !strings.Contains(buf.String(), "Directory cleanup failed.") {
			t.Errorf("Expected cleanup failure in the %s log, got %q", name, buf.String())
		}
	}
	if len(processContexts) != 1 || processContexts[0].Value(ctxKey{}) != "task-7" {
		t.Errorf("Expected the process logger to receive the task context, got %v", processContexts)
	}
}
