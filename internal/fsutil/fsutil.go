package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// CleanRelPath takes a user path like "", ".", "/a/b", "a//b", and returns a
// safe, slash-based, no-leading-slash relative path ("" means root).
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// JoinWithinRoot returns an absolute filesystem path under root for a given rel
// path. It rejects escapes (..).
func JoinWithinRoot(rootAbs string, rel string) (string, error) {
	rel = CleanRelPath(rel)
	if rel == "" {
		return rootAbs, nil
	}
	if strings.Contains(rel, "\x00") {
		return "", errors.New("invalid path")
	}
	abs := filepath.Join(rootAbs, filepath.FromSlash(rel))
	absClean := filepath.Clean(abs)
	rootClean := filepath.Clean(rootAbs)
	if absClean != rootClean && !strings.HasPrefix(absClean, rootClean+string(filepath.Separator)) {
		return "", errors.New("path escape")
	}
	return absClean, nil
}

// SafeName reduces an uploaded filename to a single path element.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(CleanRelPath(name))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "upload"
	}
	if len(name) > 200 {
		ext := path.Ext(name)
		if len(ext) > 20 {
			ext = ""
		}
		name = name[:200-len(ext)] + ext
	}
	return name
}

// candidate returns name for n == 0, else "stem (n).ext".
func candidate(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	b := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s (%d)%s", b, n, ext)
}

// PlaceNoClobber moves tmp into dir under name, or under "name (1)",
// "name (2)", ... when taken. Existing files are never overwritten.
// It returns the final absolute path.
func PlaceNoClobber(tmp, dir, name string) (string, error) {
	name = SafeName(name)
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for n := 0; n < 10000; n++ {
		dst, err := JoinWithinRoot(dir, candidate(name, n))
		if err != nil {
			return "", err
		}
		err = os.Link(tmp, dst)
		if err == nil {
			_ = os.Remove(tmp)
			return dst, nil
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}
		// No hardlinks here (cross-device, FAT sdcards): exclusive create + copy.
		err = copyExclusive(tmp, dst)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		_ = os.Remove(tmp)
		return dst, nil
	}
	return "", fmt.Errorf("no free name for %q in %s", name, dir)
}

func copyExclusive(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

// SanitizeZipBaseName makes a download name out of a folder display name.
func SanitizeZipBaseName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".zip")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.Trim(s, ". ")
	if s == "" {
		return "download"
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// SanitizeZipPath turns a display name into a relative archive entry name.
func SanitizeZipPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimPrefix(p, "../")
	p = strings.ReplaceAll(p, "\x00", "")
	p = strings.Trim(p, "/")
	if p == "." || p == "" {
		return ""
	}
	// Avoid extremely long zip paths.
	if len(p) > 240 {
		p = p[:240]
	}
	return p
}
