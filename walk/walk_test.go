package walk

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/mag-/psync"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkLexicographicOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b/c.bin"), []byte("hello"))
	writeFile(t, filepath.Join(root, "a.txt"), []byte("hi"))

	entries, err := Walk(root, true, nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	if !sort.StringsAreSorted(paths) {
		t.Fatalf("entries not lexicographically sorted: %v", paths)
	}

	seen := map[string]bool{}
	for _, p := range paths {
		if seen[p] {
			t.Fatalf("duplicate path %q", p)
		}
		seen[p] = true
	}
	if !seen["a.txt"] || !seen["b"] || !seen["b/c.bin"] {
		t.Fatalf("missing expected entries: %v", paths)
	}
}

func TestWalkNonRecursive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.txt"), []byte("x"))
	writeFile(t, filepath.Join(root, "sub/deep.txt"), []byte("y"))

	entries, err := Walk(root, false, nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	for _, e := range entries {
		if e.Path == "sub/deep.txt" {
			t.Fatalf("non-recursive walk should not descend into sub/: %v", entries)
		}
	}
}

func TestWalkExcludesGlobAndDoubleStar(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), []byte("x"))
	writeFile(t, filepath.Join(root, "skip.log"), []byte("x"))
	writeFile(t, filepath.Join(root, "cache/a/b/skip.tmp"), []byte("x"))

	entries, err := Walk(root, true, []string{"*.log", "cache/**/*.tmp"})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	for _, e := range entries {
		if e.Path == "skip.log" || e.Path == "cache/a/b/skip.tmp" {
			t.Fatalf("entry %q should have been excluded", e.Path)
		}
	}
}

func TestWalkSymlinkClassification(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "target.txt"), []byte("hi"))
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink("target.txt", link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	entries, err := Walk(root, true, nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	var found bool
	for _, e := range entries {
		if e.Path == "link.txt" {
			found = true
			if e.Kind != psync.EntrySymlink {
				t.Fatalf("expected symlink kind, got %v", e.Kind)
			}
			if e.SymlinkTarget != "target.txt" {
				t.Fatalf("wrong symlink target: %q", e.SymlinkTarget)
			}
		}
	}
	if !found {
		t.Fatal("link.txt not found in walk")
	}
}
