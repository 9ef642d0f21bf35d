// Package fsutil resolves the definition paths given on the command line
// into the files to load.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// walkDir returns the files under root whose names end in extension.
// Hidden directories such as .git or the state directory are not entered.
func walkDir(root, extension string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), extension) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// CollectFiles expands every path into the files to load. A directory is
// walked for files with the given extension, a glob such as
// "pipelines/**/*.hcl" is matched as written, and a plain file is taken
// whatever its extension. The result is sorted and free of duplicates.
func CollectFiles(extension string, paths ...string) ([]string, error) {
	if extension == "" {
		return nil, errors.New("fsutil: extension must not be empty")
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		p = filepath.Clean(p)
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, path := range paths {
		if isGlob(path) {
			matches, err := doublestar.FilepathGlob(path, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("invalid definitions pattern %s: %w", path, err)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("definitions pattern %s matched no files", path)
			}
			for _, m := range matches {
				add(m)
			}
			continue
		}

		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("definitions path %s does not exist", path)
		}
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		files, err := walkDir(path, extension)
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
		for _, f := range files {
			add(f)
		}
	}
	sort.Strings(out)
	return out, nil
}

func isGlob(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}
