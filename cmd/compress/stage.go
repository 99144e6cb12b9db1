package compress

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func resolve(path, sandboxDir string) string {
	if sandboxDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(sandboxDir, path)
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open output file %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		return errors.Join(fmt.Errorf("failed to copy to %s: %w", dst, err), out.Close())
	}
	return out.Close()
}
