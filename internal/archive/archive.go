// Package archive turns a project directory into a single compressed
// artifact suitable for upload, skipping dependency caches, build output
// and VCS metadata.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// PackagingError reports an unusable source directory.
type PackagingError struct {
	Dir string
	Err error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("packaging %s: %v", e.Dir, e.Err)
}

func (e *PackagingError) Unwrap() error { return e.Err }

// excludedDirs are never packed, regardless of depth.
var excludedDirs = map[string]struct{}{
	".git":          {},
	".hg":           {},
	".svn":          {},
	"node_modules":  {},
	"__pycache__":   {},
	".venv":         {},
	"venv":          {},
	"env":           {},
	".env":          {},
	"dist":          {},
	"build":         {},
	"target":        {},
	".idea":         {},
	".vscode":       {},
	".pytest_cache": {},
}

// Pack writes a zip of sourceDir to w, preserving paths relative to the
// source root. It fails with a PackagingError when the directory does not
// exist or contains zero eligible files after exclusions.
func Pack(sourceDir string, w io.Writer) error {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return &PackagingError{Dir: sourceDir, Err: err}
	}
	if !info.IsDir() {
		return &PackagingError{Dir: sourceDir, Err: fmt.Errorf("not a directory")}
	}

	zw := zip.NewWriter(w)
	count := 0
	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := excludedDirs[d.Name()]; skip && path != sourceDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		entry, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, f)
		f.Close()
		if err != nil {
			return err
		}
		count++
		return nil
	})
	if walkErr != nil {
		_ = zw.Close()
		return &PackagingError{Dir: sourceDir, Err: walkErr}
	}
	if count == 0 {
		_ = zw.Close()
		return &PackagingError{Dir: sourceDir, Err: fmt.Errorf("no eligible files after exclusions")}
	}
	if err := zw.Close(); err != nil {
		return &PackagingError{Dir: sourceDir, Err: err}
	}
	return nil
}

// PackToFile writes the archive into dir under name.zip and returns its path.
func PackToFile(sourceDir, dir, name string) (string, error) {
	safe := SafeName(name)
	path := filepath.Join(dir, safe+".zip")
	f, err := os.Create(path)
	if err != nil {
		return "", &PackagingError{Dir: sourceDir, Err: err}
	}
	if err := Pack(sourceDir, f); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", &PackagingError{Dir: sourceDir, Err: err}
	}
	return path, nil
}

// SafeName sanitizes a project name for use in filenames and object keys.
func SafeName(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_")
	safe := replacer.Replace(name)
	if safe == "" {
		safe = "project"
	}
	return safe
}
