package builtin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const DefaultMaxReadSize = 1 << 20

var (
	ErrPathRequired       = errors.New("tool path is required")
	ErrPathOutsideSandbox = errors.New("tool path escapes sandbox root")
	ErrArgumentInvalid    = errors.New("tool arguments are invalid")
)

// Policy confines file access to a resolved sandbox root.
type Policy struct {
	root        string
	maxReadSize int64
}

func NewPolicy(root string, maxReadSize int64) (Policy, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return Policy{}, fmt.Errorf("new sandbox policy: root is required")
	}

	rootAbs, err := filepath.Abs(trimmed)
	if err != nil {
		return Policy{}, fmt.Errorf("new sandbox policy: resolve root: %w", err)
	}
	rootResolved, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return Policy{}, fmt.Errorf("new sandbox policy: root does not exist: %q", rootAbs)
		}
		return Policy{}, fmt.Errorf("new sandbox policy: resolve root symlinks: %w", err)
	}
	info, err := os.Stat(rootResolved)
	if err != nil {
		return Policy{}, fmt.Errorf("new sandbox policy: stat root: %w", err)
	}
	if !info.IsDir() {
		return Policy{}, fmt.Errorf("new sandbox policy: root is not a directory: %q", rootResolved)
	}

	if maxReadSize <= 0 {
		maxReadSize = DefaultMaxReadSize
	}
	return Policy{root: rootResolved, maxReadSize: maxReadSize}, nil
}

func (p Policy) Root() string {
	return p.root
}

// ResolvePath maps a tool-supplied path to an absolute path inside the root.
// Symlinks along the existing prefix are followed before the containment
// check, so a link pointing outside the root is rejected.
func (p Policy) ResolvePath(raw string) (string, error) {
	path := strings.TrimSpace(raw)
	if path == "" {
		return "", ErrPathRequired
	}

	candidate := filepath.Clean(path)
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(p.root, candidate)
	}

	resolved, err := resolveExistingPrefix(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	if !within(p.root, resolved) {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideSandbox, path)
	}
	return candidate, nil
}

// relative renders an absolute path inside the root for tool output.
func (p Policy) relative(path string) string {
	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func resolveExistingPrefix(path string) (string, error) {
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			rel, err := filepath.Rel(current, path)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, rel), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Clean(path), nil
		}
		current = parent
	}
}

func within(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
