package txfs

import (
	"fmt"
	gopath "path"
	"strings"
)

// normalizePath resolves p against cwd into a clean absolute path.
// "." and ".." resolve textually; ".." above the root stays at the
// root (the root is its own parent).
func normalizePath(cwd, p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	if !strings.HasPrefix(p, "/") {
		p = gopath.Join(cwd, p)
	}

	return gopath.Clean(p), nil
}

// splitParent splits a normalized absolute path into its parent path
// and base name. The base of the root is empty.
func splitParent(abs string) (parent, base string) {
	if abs == "/" {
		return "/", ""
	}

	return gopath.Dir(abs), gopath.Base(abs)
}

// pathComponents returns the name components of a normalized absolute
// path; the root has none.
func pathComponents(abs string) []string {
	if abs == "/" {
		return nil
	}

	return strings.Split(strings.TrimPrefix(abs, "/"), "/")
}

// validateName rejects entry names that cannot appear in the tree.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidPath, name)
	}

	return nil
}
