// Package walk expands command line paths into the regular files to hash.
package walk

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
)

// ErrBadPattern marks an exclusion glob that filepath.Match rejects.
var ErrBadPattern = filepath.ErrBadPattern

// Excluded reports whether rel (slash separated, relative to the walk root)
// matches any pattern, either as a whole or by its base name.
func Excluded(rel string, excludes []string) (bool, error) {
	base := filepath.Base(rel)
	for _, pattern := range excludes {
		for _, candidate := range []string{rel, base} {
			ok, err := filepath.Match(pattern, candidate)
			if err != nil {
				return false, errors.Wrapf(err, "exclude %q", pattern)
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// Files returns the regular files under root in lexical order. A root that
// is itself a file is returned as is. Excluded directories are not
// descended into. Symlinks are not followed.
func Files(root string, excludes []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		skip, err := Excluded(filepath.ToSlash(rel), excludes)
		if err != nil {
			return err
		}
		if skip {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Expand runs Files over every path and concatenates the results, dropping
// duplicates.
func Expand(paths []string, excludes []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		files, err := Files(p, excludes)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out, nil
}
