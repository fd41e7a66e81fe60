package gateway

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/mindraft/mindraft-core/config"
	"github.com/mindraft/mindraft-core/logger"
	"github.com/mindraft/mindraft-core/metrics"
	"github.com/mindraft/mindraft-core/workspace"
)

// ErrNotText is the cause reported when a file's bytes are not valid UTF-8.
var ErrNotText = errors.New("file is not valid UTF-8 text")

// FS is the local filesystem Gateway.
type FS struct {
	opts []workspace.Option
	log  *slog.Logger
}

// Compile-time interface satisfaction check.
var _ Gateway = (*FS)(nil)

// NewFS creates a filesystem gateway whose tree listing follows prefs. A nil
// prefs uses config.DefaultPreferences.
func NewFS(prefs *config.Preferences) *FS {
	if prefs == nil {
		prefs = config.DefaultPreferences()
	}
	return &FS{
		opts: []workspace.Option{
			workspace.WithExtensions(prefs.Extensions...),
			workspace.WithSkipDirs(prefs.SkipDirs...),
			workspace.WithHidden(prefs.ShowHidden),
		},
		log: logger.WithComponent("gateway"),
	}
}

// LoadWorkspace implements Gateway.
func (g *FS) LoadWorkspace(ctx context.Context, path string) (*workspace.Info, error) {
	start := time.Now()
	defer func() { metrics.ObserveGatewayOp(OpLoadWorkspace, time.Since(start)) }()

	info, err := workspace.Load(ctx, path, g.opts...)
	if err != nil {
		kind := classify(err, NotFound)
		g.log.Warn("workspace load failed", "path", path, "kind", kind, "error", err)
		return nil, &Error{Op: OpLoadWorkspace, Path: path, Kind: kind, Err: err}
	}
	g.log.Info("workspace loaded", "path", path, "nodes", info.Count())
	return info, nil
}

// OpenFile implements Gateway.
func (g *FS) OpenFile(ctx context.Context, path string) (string, error) {
	start := time.Now()
	defer func() { metrics.ObserveGatewayOp(OpOpenFile, time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return "", &Error{Op: OpOpenFile, Path: path, Kind: Unknown, Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		kind := classify(err, ReadError)
		g.log.Warn("read failed", "path", path, "kind", kind, "error", err)
		return "", &Error{Op: OpOpenFile, Path: path, Kind: kind, Err: err}
	}
	if !utf8.Valid(data) {
		return "", &Error{Op: OpOpenFile, Path: path, Kind: ReadError, Err: ErrNotText}
	}
	g.log.Debug("file read", "path", path, "bytes", len(data))
	return string(data), nil
}

// SaveFile implements Gateway. The content is written to a temp file in the
// same directory and renamed over the target, keeping the target's mode.
func (g *FS) SaveFile(ctx context.Context, path, content string) error {
	start := time.Now()
	defer func() { metrics.ObserveGatewayOp(OpSaveFile, time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return &Error{Op: OpSaveFile, Path: path, Kind: Unknown, Err: err}
	}

	if err := writeAtomic(path, []byte(content)); err != nil {
		g.log.Warn("write failed", "path", path, "error", err)
		return &Error{Op: OpSaveFile, Path: path, Kind: WriteError, Err: err}
	}
	g.log.Debug("file written", "path", path, "bytes", len(content))
	return nil
}

func writeAtomic(path string, data []byte) error {
	mode := fs.FileMode(0644)
	if fi, err := os.Stat(path); err == nil {
		if fi.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}
		mode = fi.Mode().Perm()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
