// Package workspace creates the isolated project copies that builds run in.
// A workspace is a temporary directory holding a symlink for every project
// source file, so concurrent builds never share output directories.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const tempPrefix = "matrixbuild-"

// CacheDirs are the build caches copied from the priming workspace
var CacheDirs = []string{".pio", "build_cache"}

// Workspace is one isolated project directory
type Workspace struct {
	Index int
	Dir   string
	fs    afero.Fs
}

// Path joins elem onto the workspace directory
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Dir}, elem...)...)
}

// Close removes the workspace directory and everything in it
func (w *Workspace) Close() error {
	if w == nil || w.Dir == "" {
		return ErrWorkspaceNotCreated
	}
	if err := w.fs.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", w.Dir, err)
	}
	return nil
}

// CloseAll removes every workspace and combines the errors
func CloseAll(workspaces []*Workspace) error {
	var err error
	for _, w := range workspaces {
		err = multierr.Append(err, w.Close())
	}
	return err
}

// ProvisionerConfig defines where workspaces are created from and placed
type ProvisionerConfig struct {
	Root    string // Absolute project root the sources are linked from
	TempDir string // Parent of the workspace directories, os.TempDir when empty
}

// Provisioner creates workspaces
type Provisioner struct {
	logger *zap.Logger
	fs     afero.Fs
	config ProvisionerConfig
}

// NewProvisioner creates a new provisioner
func NewProvisioner(fs afero.Fs, config ProvisionerConfig, logger *zap.Logger) (*Provisioner, error) {
	if _, ok := fs.(afero.Linker); !ok {
		return nil, ErrSymlinkUnsupported
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	config.Root = root

	return &Provisioner{
		logger: logger.Named("workspace"),
		fs:     fs,
		config: config,
	}, nil
}

// Create makes n workspaces, each linking every source. Either all n are
// returned or none are left behind on disk.
func (p *Provisioner) Create(n int, sources []string) (workspaces []*Workspace, err error) {
	if n < 1 {
		return nil, ErrNoWorkspaces
	}

	p.logger.Info("Creating workspaces",
		zap.Int("count", n),
		zap.Int("sources", len(sources)))

	defer func() {
		if err != nil {
			err = multierr.Append(err, CloseAll(workspaces))
			workspaces = nil
		}
	}()

	for i := 0; i < n; i++ {
		dir, err := afero.TempDir(p.fs, p.config.TempDir, tempPrefix)
		if err != nil {
			return workspaces, fmt.Errorf("failed to create workspace directory: %w", err)
		}
		w := &Workspace{Index: i, Dir: dir, fs: p.fs}
		workspaces = append(workspaces, w)

		if err := p.link(w, sources); err != nil {
			return workspaces, err
		}
		p.logger.Debug("Workspace created",
			zap.Int("index", i),
			zap.String("dir", dir))
	}

	return workspaces, nil
}

func (p *Provisioner) link(w *Workspace, sources []string) error {
	linker := p.fs.(afero.Linker)
	for _, rel := range sources {
		src := filepath.Join(p.config.Root, rel)
		if _, err := p.fs.Stat(src); err != nil {
			return fmt.Errorf("failed to link %s: %w", rel, err)
		}
		dst := w.Path(rel)
		if err := p.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", rel, err)
		}
		if err := linker.SymlinkIfPossible(src, dst); err != nil {
			return fmt.Errorf("failed to link %s: %w", rel, err)
		}
	}
	return nil
}

// CopyCaches copies the named cache directories of src into every dst. A
// cache missing from src is skipped.
func (p *Provisioner) CopyCaches(src *Workspace, dsts []*Workspace, names []string) error {
	p.logger.Info("Copying caches to other workspaces",
		zap.Int("targets", len(dsts)),
		zap.Strings("caches", names))

	for _, name := range names {
		from := src.Path(name)
		ok, err := afero.DirExists(p.fs, from)
		if err != nil {
			return fmt.Errorf("failed to stat cache %s: %w", name, err)
		}
		if !ok {
			p.logger.Debug("Cache directory missing, skipping", zap.String("path", from))
			continue
		}
		for _, dst := range dsts {
			if dst == src {
				continue
			}
			if err := copyTree(p.fs, from, dst.Path(name)); err != nil {
				return fmt.Errorf("failed to copy cache %s to workspace %d: %w", name, dst.Index, err)
			}
		}
	}
	return nil
}

// copyTree copies a directory recursively, following symlinks
func copyTree(fs afero.Fs, src, dst string) error {
	info, err := fs.Stat(src)
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(dst, info.Mode().Perm()|0o700); err != nil {
		return err
	}

	entries, err := afero.ReadDir(fs, src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())

		if entry.Mode()&os.ModeSymlink != 0 {
			if entry, err = fs.Stat(from); err != nil {
				return err
			}
		}
		switch {
		case entry.IsDir():
			err = copyTree(fs, from, to)
		case entry.Mode().IsRegular():
			err = copyFile(fs, from, to, entry.Mode().Perm())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func copyFile(fs afero.Fs, src, dst string, perm os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
