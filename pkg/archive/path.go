package archive

import "strings"

// RelativePath computes a file's entry name inside the archive by stripping
// the originally requested root prefix from its repository path. Stripping
// is applied at most once: a path that no longer carries the prefix is
// returned unchanged, so re-stripping an already-stripped path is a no-op.
func RelativePath(root, full string) string {
	full = strings.TrimPrefix(full, "/")
	root = strings.Trim(root, "/")

	if root == "" {
		return full
	}
	if full == root {
		// The requested path resolved to a single file.
		if idx := strings.LastIndex(full, "/"); idx >= 0 {
			return full[idx+1:]
		}
		return full
	}
	if rest, ok := strings.CutPrefix(full, root+"/"); ok {
		return rest
	}
	return full
}
