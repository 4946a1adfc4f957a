// Package pathguard validates filesystem paths before any tool touches them:
// traversal rejection, symlink resolution, and boundary checks against
// configured roots.
package pathguard

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const logPrefix = "pathguard:pathguard"

// Rejection reasons. Boundary violations and unresolvable paths collapse to
// ReasonNotPermitted so the validator never reveals whether a target exists.
const (
	ReasonEmpty        = "Path cannot be empty"
	ReasonTraversal    = "Path traversal not allowed"
	ReasonNotAbsolute  = "Absolute path required"
	ReasonNotPermitted = "Path not permitted"
)

// DeniedError reports a rejected path.
type DeniedError struct {
	Path   string
	Reason string
}

func (e *DeniedError) Error() string {
	return e.Reason
}

// Guard validates raw paths against a set of permitted roots. An empty root
// set permits any absolute path (traversal and symlink rules still apply).
// Guard is stateless after construction and safe for concurrent use.
type Guard struct {
	roots []string
}

// New creates a Guard. Each root is cleaned and symlink-resolved once so
// later boundary checks compare resolved paths against resolved roots.
// Roots that cannot be resolved are kept cleaned-only, with a warning.
func New(roots []string) *Guard {
	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		clean := filepath.Clean(root)
		if real, err := filepath.EvalSymlinks(clean); err == nil {
			clean = real
		} else {
			slog.Warn(fmt.Sprintf("%s - could not resolve root %s: %v", logPrefix, root, err))
		}
		resolved = append(resolved, clean)
	}
	return &Guard{roots: resolved}
}

// ParseRoots splits a comma-separated roots setting into a root list.
func ParseRoots(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Roots returns the resolved permitted roots. Empty means unrestricted.
func (g *Guard) Roots() []string {
	out := make([]string, len(g.roots))
	copy(out, g.roots)
	return out
}

// Validate checks a raw path and returns its fully resolved form. Order
// matters: traversal and absoluteness are checked on the raw string, then
// symlinks are resolved, and only the RESOLVED path is compared against the
// permitted roots. Checking the literal string against the boundary first
// would let a symlink inside a root point anywhere.
func (g *Guard) Validate(raw string) (string, error) {
	if raw == "" {
		return "", &DeniedError{Path: raw, Reason: ReasonEmpty}
	}

	for _, part := range strings.Split(filepath.ToSlash(raw), "/") {
		if part == ".." {
			return "", &DeniedError{Path: raw, Reason: ReasonTraversal}
		}
	}

	if !filepath.IsAbs(raw) {
		return "", &DeniedError{Path: raw, Reason: ReasonNotAbsolute}
	}

	resolved, err := resolve(filepath.Clean(raw))
	if err != nil {
		return "", &DeniedError{Path: raw, Reason: ReasonNotPermitted}
	}

	if len(g.roots) > 0 {
		inside := false
		for _, root := range g.roots {
			if isWithin(root, resolved) {
				inside = true
				break
			}
		}
		if !inside {
			return "", &DeniedError{Path: raw, Reason: ReasonNotPermitted}
		}
	}

	return resolved, nil
}

// resolve evaluates symlinks for a path whose leaf may not exist yet (write
// targets). It resolves the deepest existing ancestor and rejoins the
// non-existing remainder, so a link anywhere in the prefix is still followed.
func resolve(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	var suffix []string
	current := path
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("%s - no existing ancestor for %s", logPrefix, path)
		}
		suffix = append([]string{filepath.Base(current)}, suffix...)
		current = parent

		resolved, err = filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(append([]string{resolved}, suffix...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
	}
}

// isWithin reports whether path is root itself or a descendant of root.
func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
