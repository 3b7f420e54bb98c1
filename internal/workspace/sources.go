package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

// Top-level directories that are never linked into a workspace. Build output
// and caches must stay independent per workspace.
var excludedDirs = []string{".git", "build_cache"}

var excludedDirPatterns = []string{"*venv*", "*.pio*", "*cmake-build*"}

// Top-level files that hold machine-local or generated configuration
var excludedFiles = []string{"Configuration_local.hpp", model.ConfigFileName}

// ListSources returns every project file that a build needs, relative to root
// and sorted.
func ListSources(fs afero.Fs, root string) ([]string, error) {
	var sources []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		topLevel := filepath.Dir(rel) == "."

		if info.IsDir() {
			if topLevel && excludedDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if topLevel && excludedFile(rel) {
			return nil
		}
		sources = append(sources, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sources in %s: %w", root, err)
	}

	sort.Strings(sources)
	return sources, nil
}

func excludedDir(name string) bool {
	for _, d := range excludedDirs {
		if name == d {
			return true
		}
	}
	for _, pattern := range excludedDirPatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func excludedFile(name string) bool {
	for _, f := range excludedFiles {
		if name == f {
			return true
		}
	}
	return false
}
