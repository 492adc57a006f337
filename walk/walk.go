// Package walk implements the tree walker and change filter: lexicographic
// enumeration of a source tree into psync.FileEntry values, exclude-glob
// filtering, and the receiver-side Skip/Full/Delta classification.
package walk

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mag-/psync"
)

// Walk enumerates root in lexicographic path order, classifying each entry
// by an lstat (a directory is never followed through a symlink). exclude
// patterns are matched before an entry is emitted. When recursive is false
// only root's immediate children are visited, matching the CLI's
// --recursive flag; root itself is always visited whether or not it is a
// directory.
func Walk(root string, recursive bool, exclude []string) ([]psync.FileEntry, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return nil, psync.NewError(psync.KindIO, root, err)
	}

	if !info.IsDir() {
		if Excluded(filepath.Base(root), root, exclude) {
			return nil, nil
		}
		e, err := entryFromLstat(root, filepath.Base(root), info)
		if err != nil {
			return nil, err
		}
		return []psync.FileEntry{e}, nil
	}

	var entries []psync.FileEntry
	var walkDir func(dir, rel string) error
	walkDir = func(dir, rel string) error {
		names, err := readDirNames(dir)
		if err != nil {
			return psync.NewError(psync.KindIO, dir, err)
		}
		for _, name := range names {
			abs := filepath.Join(dir, name)
			relPath := name
			if rel != "" {
				relPath = rel + "/" + name
			}
			if Excluded(name, relPath, exclude) {
				continue
			}
			fi, err := os.Lstat(abs)
			if err != nil {
				// A file that vanished between readdir and lstat is left
				// out of the walk rather than failing it; no per-file
				// error is recorded for it.
				continue
			}
			e, err := entryFromLstat(abs, relPath, fi)
			if err != nil {
				continue
			}
			entries = append(entries, e)
			if fi.IsDir() && recursive {
				if err := walkDir(abs, relPath); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walkDir(root, ""); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func readDirNames(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func entryFromLstat(abs, relPath string, fi os.FileInfo) (psync.FileEntry, error) {
	e := psync.FileEntry{
		Path:      filepath.ToSlash(relPath),
		ModTimeNs: fi.ModTime().UnixNano(),
		Mode:      uint32(fi.Mode().Perm()),
	}
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		e.Kind = psync.EntrySymlink
		target, err := os.Readlink(abs)
		if err != nil {
			return psync.FileEntry{}, psync.NewError(psync.KindIO, abs, err)
		}
		e.SymlinkTarget = target
	case fi.IsDir():
		e.Kind = psync.EntryDirectory
	default:
		e.Kind = psync.EntryRegular
		e.Size = uint64(fi.Size())
	}
	return e, nil
}

// Excluded reports whether name (a single path segment) or relPath (the
// full slash-separated relative path) matches any exclude pattern. Glob
// semantics support filepath.Match's `*` and `?` plus a `**` wildcard that
// matches any number of path segments, and a plain literal is treated as a
// path prefix.
func Excluded(name, relPath string, exclude []string) bool {
	for _, pat := range exclude {
		if matchPattern(pat, name, relPath) {
			return true
		}
	}
	return false
}

func matchPattern(pat, name, relPath string) bool {
	if ok, _ := filepath.Match(pat, name); ok {
		return true
	}
	if ok, _ := filepath.Match(pat, relPath); ok {
		return true
	}
	if strings.Contains(pat, "**") {
		if matchDoubleStar(pat, relPath) {
			return true
		}
	}
	if strings.HasPrefix(relPath, pat) {
		return true
	}
	return false
}

// matchDoubleStar expands a single "**" segment in pat into "match zero or
// more path segments" and checks relPath against the two literal halves.
func matchDoubleStar(pat, relPath string) bool {
	idx := strings.Index(pat, "**")
	if idx < 0 {
		ok, _ := filepath.Match(pat, relPath)
		return ok
	}
	prefix := strings.TrimSuffix(pat[:idx], "/")
	suffix := strings.TrimPrefix(pat[idx+2:], "/")

	if prefix != "" && !strings.HasPrefix(relPath, prefix) {
		return false
	}
	rest := strings.TrimPrefix(relPath, prefix)
	rest = strings.TrimPrefix(rest, "/")
	if suffix == "" {
		return true
	}
	segs := strings.Split(rest, "/")
	for i := range segs {
		candidate := strings.Join(segs[i:], "/")
		if ok, _ := filepath.Match(suffix, candidate); ok {
			return true
		}
		if strings.HasSuffix(candidate, "/"+suffix) || candidate == suffix {
			return true
		}
	}
	return false
}
