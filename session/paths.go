package session

import "path/filepath"

// joinRel joins a slash-separated manifest path onto a local root,
// converting to the OS's separator.
func joinRel(root, relPath string) string {
	return filepath.Join(root, filepath.FromSlash(relPath))
}
