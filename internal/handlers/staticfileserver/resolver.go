package staticfileserver

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Kind classifies a resolved request path.
type Kind int

const (
	KindMissing Kind = iota
	KindFile
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "missing"
	}
}

// ResolvedPath is a request path mapped into the sandbox root. For
// KindMissing, AbsolutePath is the intended (non-canonical) target.
type ResolvedPath struct {
	AbsolutePath string
	Kind         Kind
}

var (
	// ErrAccessDenied means the request path resolves outside the root.
	ErrAccessDenied = errors.New("access denied: path escapes server root")
	// ErrBadPath means the request path could not be percent-decoded.
	ErrBadPath = errors.New("malformed request path")
)

// IoError wraps an unexpected filesystem failure while resolving or rendering.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// PathResolver maps untrusted request paths onto a fixed root directory.
type PathResolver struct {
	root string
}

// NewPathResolver canonicalizes root once; every later resolution is checked against it.
func NewPathResolver(root string) (*PathResolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving server root %q: %w", root, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing server root %q: %w", root, err)
	}
	fi, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("server root %q: %w", canonical, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("server root %q is not a directory", canonical)
	}
	return &PathResolver{root: canonical}, nil
}

// Root returns the canonical root directory.
func (r *PathResolver) Root() string { return r.root }

// Resolve decodes rawPath, joins it onto the root and classifies the result.
// A nonexistent target is KindMissing, not an error. Paths that leave the
// root, lexically or through a symlink, fail with ErrAccessDenied.
func (r *PathResolver) Resolve(rawPath string) (ResolvedPath, error) {
	if i := strings.IndexAny(rawPath, "?#"); i >= 0 {
		rawPath = rawPath[:i]
	}
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		return ResolvedPath{}, fmt.Errorf("%w: %v", ErrBadPath, err)
	}
	if strings.IndexByte(decoded, 0) >= 0 {
		return ResolvedPath{}, fmt.Errorf("%w: NUL byte in path", ErrBadPath)
	}

	// Join cleans the result, so "/../" sequences are already collapsed here.
	target := filepath.Join(r.root, filepath.FromSlash(decoded))
	if !r.contains(target) {
		return ResolvedPath{}, ErrAccessDenied
	}

	canonical, err := filepath.EvalSymlinks(target)
	if err != nil {
		if isNotExist(err) {
			return ResolvedPath{AbsolutePath: target, Kind: KindMissing}, nil
		}
		return ResolvedPath{}, &IoError{Op: "canonicalize", Path: target, Err: err}
	}
	if !r.contains(canonical) {
		return ResolvedPath{}, ErrAccessDenied
	}

	fi, err := os.Stat(canonical)
	if err != nil {
		if isNotExist(err) {
			return ResolvedPath{AbsolutePath: target, Kind: KindMissing}, nil
		}
		return ResolvedPath{}, &IoError{Op: "stat", Path: canonical, Err: err}
	}
	if fi.IsDir() {
		return ResolvedPath{AbsolutePath: canonical, Kind: KindDirectory}, nil
	}
	return ResolvedPath{AbsolutePath: canonical, Kind: KindFile}, nil
}

// isNotExist also treats a file used as a directory ("/a.txt/b") as missing.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// contains reports whether p is the root or lies below it. A bare prefix
// test would accept "/srv/www-other" for root "/srv/www".
func (r *PathResolver) contains(p string) bool {
	if p == r.root {
		return true
	}
	prefix := r.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// RelativePath returns abs relative to the root in slash form, "" for the root itself.
func (r *PathResolver) RelativePath(abs string) (string, error) {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrAccessDenied
	}
	return filepath.ToSlash(rel), nil
}
