// Package artifact collects a build stage's durable output.
//
// After a stage with an artifact directory succeeds, the directory's
// contents are copied into a per-run, per-stage area under the collector's
// root. Failed stages never publish artifacts.
package artifact

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Collector copies artifact directories into a durable root.
type Collector struct {
	root string
}

// NewCollector creates a collector rooted at dir.
func NewCollector(dir string) *Collector {
	return &Collector{root: dir}
}

// Collect copies the contents of srcDir into <root>/<runID>/<stage> and
// returns the destination directory. The source directory must exist; an
// absent artifact directory after a successful build is an error, not a
// silent no-op.
func (c *Collector) Collect(runID, stage, srcDir string) (string, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return "", fmt.Errorf("artifact directory %q: %w", srcDir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("artifact path %q is not a directory", srcDir)
	}

	dest := filepath.Join(c.root, runID, stage)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact area: %w", err)
	}

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			// Sockets, devices and symlinks are not build output.
			return nil
		}
		return copyFile(path, target)
	})
	if err != nil {
		return "", fmt.Errorf("collecting artifacts from %q: %w", srcDir, err)
	}

	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
