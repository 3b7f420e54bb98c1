// Package build turns a solution into a build tool invocation inside a
// workspace.
package build

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

// RenderConfig returns the configuration header for flags, one define per
// flag in order.
func RenderConfig(flags []model.Assignment) []byte {
	var b bytes.Buffer
	b.WriteString("#pragma once\n\n")
	for _, f := range flags {
		fmt.Fprintf(&b, "#define %s %s\n", f.Name, f.Value)
	}
	return b.Bytes()
}

// WriteConfig writes the configuration header into dir and returns its path
func WriteConfig(fs afero.Fs, dir string, flags []model.Assignment) (string, error) {
	path := filepath.Join(dir, model.ConfigFileName)
	if err := afero.WriteFile(fs, path, RenderConfig(flags), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
