package files

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ca-x/asset-syncer/internal/rule"
)

// SystemIgnore is always skipped when listing a directory.
const SystemIgnore = ".DS_Store"

// File describes one artifact. Name is the forward-slash storage-relative
// name, Path the local file used for reading content.
type File struct {
	Name string
	Path string
}

// List walks root recursively and returns every regular file below it that
// does not match an ignore glob.
func List(ctx context.Context, root string, ignore []string) ([]File, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory %s: %w", root, err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("failed to list directory %s: not a directory", root)
	}

	globs := append([]string{SystemIgnore}, ignore...)

	var result []File
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(relPath)

		if rule.Ignored(name, globs) {
			return nil
		}

		result = append(result, File{Name: name, Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list directory %s: %w", root, err)
	}

	return result, nil
}

// FromAssets maps asset names emitted by a build into files under outputPath.
func FromAssets(outputPath string, assets []string) []File {
	result := make([]File, 0, len(assets))
	for _, asset := range assets {
		name := filepath.ToSlash(asset)
		result = append(result, File{
			Name: name,
			Path: filepath.Join(outputPath, filepath.FromSlash(name)),
		})
	}
	return result
}

// Resolve turns paths relative to dir into files named after that relative
// path. Absolute paths inside dir get a relative name too; paths outside dir
// keep their base name.
func Resolve(dir string, paths []string) []File {
	result := make([]File, 0, len(paths))
	for _, p := range paths {
		local := p
		if !filepath.IsAbs(local) {
			local = filepath.Join(dir, local)
		}
		name := filepath.Base(local)
		if rel, err := filepath.Rel(dir, local); err == nil && !isOutside(rel) {
			name = filepath.ToSlash(rel)
		}
		result = append(result, File{Name: name, Path: local})
	}
	return result
}

// Dedupe merges file sets by name; the first file seen for a name wins.
func Dedupe(sets ...[]File) []File {
	seen := make(map[string]struct{})
	var result []File
	for _, set := range sets {
		for _, f := range set {
			if _, ok := seen[f.Name]; ok {
				continue
			}
			seen[f.Name] = struct{}{}
			result = append(result, f)
		}
	}
	return result
}

// Names returns the names of files in order.
func Names(list []File) []string {
	names := make([]string, len(list))
	for i, f := range list {
		names[i] = f.Name
	}
	return names
}

// Size returns the size in bytes of the local file.
func (f File) Size() (int64, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func isOutside(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}
