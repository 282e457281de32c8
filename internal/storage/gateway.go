// Package storage resolves storage paths to local files across backends.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/sirupsen/logrus"
)

// Backend is a blob store addressed by key.
type Backend interface {
	Name() string
	IsRemote() bool
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key, localPath, contentType string) error
	Download(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// localPather is implemented by backends whose keys map to local files.
type localPather interface {
	Path(key string) (string, error)
}

// Gateway routes storage operations to the backend named by a record.
type Gateway struct {
	backends       map[string]Backend
	defaultBackend string
	tempDir        string
	logger         *logrus.Logger
}

// NewGateway registers backends by name. An empty backend hint resolves to
// defaultBackend.
func NewGateway(defaultBackend, tempDir string, logger *logrus.Logger, backends ...Backend) *Gateway {
	g := &Gateway{
		backends:       make(map[string]Backend, len(backends)),
		defaultBackend: defaultBackend,
		tempDir:        tempDir,
		logger:         logger,
	}
	for _, b := range backends {
		if b != nil {
			g.backends[b.Name()] = b
		}
	}
	return g
}

// DefaultBackend returns the backend name used for new objects.
func (g *Gateway) DefaultBackend() string {
	return g.defaultBackend
}

// Backend returns the named backend.
func (g *Gateway) Backend(hint string) (Backend, error) {
	name := strings.TrimSpace(hint)
	if name == "" {
		name = g.defaultBackend
	}
	b, ok := g.backends[name]
	if !ok {
		return nil, fmt.Errorf("storage backend %q not configured", name)
	}
	return b, nil
}

// ResolveLocalPath returns a local file for storagePath. Local backends return
// the file in place; remote objects are downloaded to <temp>/<recordID>/<basename>.
func (g *Gateway) ResolveLocalPath(ctx context.Context, storagePath, hint, recordID string) (string, error) {
	target := filepath.Join(g.tempDir, recordID, filepath.Base(storagePath))
	return g.ResolveLocalPathTo(ctx, storagePath, hint, target)
}

// ResolveLocalPathTo is ResolveLocalPath with a caller chosen download target.
// An existing non-empty target is reused.
func (g *Gateway) ResolveLocalPathTo(ctx context.Context, storagePath, hint, target string) (string, error) {
	if storagePath == "" {
		return "", &apperr.InputResolutionError{Resource: "storage path", ID: target}
	}
	b, err := g.Backend(hint)
	if err != nil {
		return "", &apperr.InputResolutionError{Resource: "storage backend", ID: hint, Err: err}
	}

	if !b.IsRemote() {
		lp, ok := b.(localPather)
		if !ok {
			return "", fmt.Errorf("backend %s cannot map keys to files", b.Name())
		}
		path, err := lp.Path(storagePath)
		if err != nil {
			return "", &apperr.InputResolutionError{Resource: "file", ID: storagePath, Err: err}
		}
		if _, err := os.Stat(path); err != nil {
			return "", &apperr.InputResolutionError{Resource: "file", ID: storagePath, Err: err}
		}
		return path, nil
	}

	if info, err := os.Stat(target); err == nil && info.Size() > 0 {
		return target, nil
	}
	g.logger.WithFields(logrus.Fields{"backend": b.Name(), "key": storagePath, "target": target}).Debug("Downloading input")
	if err := b.Download(ctx, storagePath, target); err != nil {
		return "", &apperr.InputResolutionError{Resource: "object", ID: storagePath, Err: err}
	}
	return target, nil
}

// Exists reports whether storagePath exists on the backend.
func (g *Gateway) Exists(ctx context.Context, storagePath, hint string) (bool, error) {
	b, err := g.Backend(hint)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, storagePath)
}

// Upload stores a local file under storagePath and returns its URL.
func (g *Gateway) Upload(ctx context.Context, localPath, storagePath, hint, contentType string) (string, error) {
	b, err := g.Backend(hint)
	if err != nil {
		return "", err
	}
	if err := b.Upload(ctx, storagePath, localPath, contentType); err != nil {
		return "", err
	}
	return b.URL(storagePath), nil
}

// Download copies storagePath to localPath.
func (g *Gateway) Download(ctx context.Context, storagePath, hint, localPath string) error {
	b, err := g.Backend(hint)
	if err != nil {
		return err
	}
	return b.Download(ctx, storagePath, localPath)
}

// URL returns the public address of storagePath.
func (g *Gateway) URL(storagePath, hint string) string {
	b, err := g.Backend(hint)
	if err != nil {
		return ""
	}
	return b.URL(storagePath)
}

// signer is implemented by backends that can mint temporary download URLs.
type signer interface {
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// DownloadURL returns a temporary URL for storagePath when the backend can
// sign one, and its plain URL otherwise.
func (g *Gateway) DownloadURL(ctx context.Context, storagePath, hint string, expiry time.Duration) (string, error) {
	b, err := g.Backend(hint)
	if err != nil {
		return "", err
	}
	if s, ok := b.(signer); ok {
		return s.GetSignedURL(ctx, storagePath, expiry)
	}
	return b.URL(storagePath), nil
}

// Cleanup removes a resolved local copy. It is a no-op for local backends,
// whose resolved path is the stored file itself.
func (g *Gateway) Cleanup(localPath, hint string) {
	b, err := g.Backend(hint)
	if err != nil || !b.IsRemote() || localPath == "" {
		return
	}
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		g.logger.WithError(err).WithField("path", localPath).Warn("Failed to clean up local copy")
	}
}
