package workspace

import "errors"

var (
	ErrNoWorkspaces        = errors.New("at least one workspace is required")
	ErrSymlinkUnsupported  = errors.New("filesystem does not support symlinks")
	ErrWorkspaceNotCreated = errors.New("workspace was not created")
)
