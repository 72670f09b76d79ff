// Package dataset reads folder-per-class image datasets and streams them as
// shuffled, preprocessed batches.
package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Brownie44l1/car-classifier/internal/domain"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

type Sample struct {
	Path  string
	Label int32
}

// Folder is a dataset laid out as root/<label>/<image files>.
type Folder struct {
	Root    string
	Classes domain.ClassList
	Samples []Sample
}

func (f *Folder) Len() int { return len(f.Samples) }

// CountByClass returns the number of samples per class index.
func (f *Folder) CountByClass() []int {
	counts := make([]int, len(f.Classes))
	for _, s := range f.Samples {
		counts[s.Label]++
	}
	return counts
}

// Scan enumerates class directories in alphabetical order and collects their
// images. Hidden entries are skipped. A dataset with no classes, or a class
// with no images, is a configuration error.
func Scan(root string) (*Folder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "scan dataset", err)
	}

	var classes domain.ClassList
	for _, entry := range entries {
		if !entry.IsDir() || isHidden(entry.Name()) {
			continue
		}
		classes = append(classes, entry.Name())
	}
	sort.Strings(classes)

	if len(classes) == 0 {
		return nil, domain.WrapError(domain.ErrConfiguration, "scan dataset", fmt.Errorf("no class directories in %s", root))
	}

	folder := &Folder{Root: root, Classes: classes}
	for label, class := range classes {
		files, err := listImages(filepath.Join(root, class))
		if err != nil {
			return nil, fmt.Errorf("scan class %q: %w", class, err)
		}
		if len(files) == 0 {
			return nil, domain.WrapError(domain.ErrConfiguration, "scan dataset", fmt.Errorf("class %q has no images", class))
		}
		for _, path := range files {
			folder.Samples = append(folder.Samples, Sample{Path: path, Label: int32(label)})
		}
	}

	return folder, nil
}

func listImages(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if imageExtensions[strings.ToLower(filepath.Ext(path))] {
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

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
