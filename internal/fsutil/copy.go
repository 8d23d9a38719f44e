package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// CopyTree copies every regular file under src into dst, preserving relative
// paths and file modes. It returns the number of bytes copied.
func CopyTree(src, dst string) (int64, error) {
	var total int64
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		n, err := CopyFile(p, target)
		total += n
		return err
	})
	return total, err
}

// CopyFile copies one file, creating parent directories of dst as needed.
func CopyFile(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Collect copies the files under root that match any of patterns into dst.
// Patterns use forward slashes and doublestar syntax, so "**" matches any
// number of directories. It returns the relative paths copied.
func Collect(root string, patterns []string, dst string) ([]string, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("bad file pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}

	var copied []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, pattern := range patterns {
			ok, err := MatchGlob(pattern, rel)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if _, err := CopyFile(p, filepath.Join(dst, filepath.FromSlash(rel))); err != nil {
				return err
			}
			copied = append(copied, rel)
			break
		}
		return nil
	})
	return copied, err
}

// MatchGlob reports whether the slash-separated name matches pattern. A
// malformed pattern is an error rather than a miss.
func MatchGlob(pattern, name string) (bool, error) {
	ok, err := doublestar.Match(pattern, name)
	if err != nil {
		return false, fmt.Errorf("bad file pattern %q: %w", pattern, err)
	}
	return ok, nil
}
