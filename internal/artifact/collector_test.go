package artifact

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCollect(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"app.tar.gz":   "tarball",
		"bin/app":      "binary",
		"manifest.txt": "v1.2.3",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	root := t.TempDir()
	c := NewCollector(root)

	dest, err := c.Collect("run-1", "build", src)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if want := filepath.Join(root, "run-1", "build"); dest != want {
		t.Errorf("dest = %q, want %q", dest, want)
	}

	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(dest, name))
		if err != nil {
			t.Errorf("reading collected %s: %v", name, err)
			continue
		}
		if string(data) != content {
			t.Errorf("%s = %q, want %q", name, data, content)
		}
	}
}

func TestCollectMissingSource(t *testing.T) {
	c := NewCollector(t.TempDir())
	if _, err := c.Collect("run-1", "build", filepath.Join(t.TempDir(), "dist")); err == nil {
		t.Fatal("Collect() expected error for missing source directory")
	}
}

func TestCollectSourceIsFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "dist")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewCollector(t.TempDir())
	if _, err := c.Collect("run-1", "build", src); err == nil {
		t.Fatal("Collect() expected error for non-directory source")
	}
}
