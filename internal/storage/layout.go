package storage

import (
	"path"
	"path/filepath"
	"strings"
)

// RenderLayout is the deterministic working directory of one render.
type RenderLayout struct {
	Dir    string
	Output string
	format string
}

// NewRenderLayout returns <base>/renders/<workspaceID>/<taskID>.
func NewRenderLayout(base, workspaceID, taskID, format string) RenderLayout {
	dir := filepath.Join(base, "renders", workspaceID, taskID)
	return RenderLayout{
		Dir:    dir,
		Output: filepath.Join(dir, "output."+format),
		format: format,
	}
}

// InputPath is where a remote input for mediaID is downloaded.
func (l RenderLayout) InputPath(mediaID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return filepath.Join(l.Dir, "inputs", mediaID)
	}
	return filepath.Join(l.Dir, "inputs", mediaID+"."+ext)
}

// OutputKey is the storage key of the rendered file.
func (l RenderLayout) OutputKey(workspaceID, taskID string) string {
	return path.Join("renders", workspaceID, taskID, "output."+l.format)
}

// MediaArtifactKey is the storage key of a derived media artifact.
func MediaArtifactKey(workspaceID, mediaID, name string) string {
	return path.Join("media", workspaceID, mediaID, name)
}
