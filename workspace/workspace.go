// Package workspace builds immutable snapshots of a workspace directory tree.
//
// A snapshot is produced once per workspace load and never mutated. A changed
// workspace is represented by loading a new snapshot and discarding the old
// one wholesale. Entries keep the order in which the directory listing
// returned them.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// AssetsDir is the conventional subdirectory Load ensures at the workspace root.
const AssetsDir = "assets"

// ErrNotFound is returned by Load when the workspace path does not exist or
// is not a directory.
var ErrNotFound = errors.New("workspace not found")

// SkipDir can be returned from a WalkFunc to skip a directory's children.
var SkipDir = errors.New("skip this directory")

// Kind tags the two shapes a Node can take.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

// String returns the wire name of the kind ("File" or "Directory").
func (k Kind) String() string {
	if k == KindDirectory {
		return "Directory"
	}
	return "File"
}

// Node is a file or directory in a workspace snapshot. Children is only
// meaningful for directories and is owned by its parent.
type Node struct {
	Kind     Kind
	Name     string
	Path     string
	Children []*Node
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.Kind == KindDirectory
}

type fileJSON struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Path string `json:"path"`
}

type dirJSON struct {
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Children []*Node `json:"children"`
}

// MarshalJSON encodes the node in the tagged form the UI consumes:
// {"type":"File"|"Directory","name":...,"path":...,"children":[...]}.
// Directories always carry a children array, even when empty.
func (n *Node) MarshalJSON() ([]byte, error) {
	if !n.IsDir() {
		return json.Marshal(fileJSON{Type: n.Kind.String(), Name: n.Name, Path: n.Path})
	}
	children := n.Children
	if children == nil {
		children = []*Node{}
	}
	return json.Marshal(dirJSON{Type: n.Kind.String(), Name: n.Name, Path: n.Path, Children: children})
}

// UnmarshalJSON decodes the tagged form produced by MarshalJSON.
func (n *Node) UnmarshalJSON(data []byte) error {
	var in dirJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Type {
	case "File":
		n.Kind = KindFile
		n.Children = nil
	case "Directory":
		n.Kind = KindDirectory
		n.Children = in.Children
		if n.Children == nil {
			n.Children = []*Node{}
		}
	default:
		return fmt.Errorf("unknown node type %q", in.Type)
	}
	n.Name = in.Name
	n.Path = in.Path
	return nil
}

// Info is a loaded workspace: its root path and root-level entries.
type Info struct {
	Path string  `json:"path"`
	Tree []*Node `json:"tree"`
}

// Options controls which entries Load includes.
type Options struct {
	Extensions []string // Case-insensitive file extensions to keep; empty keeps all files
	SkipDirs   []string // Directory names skipped at any depth
	ShowHidden bool     // Include dot-prefixed entries
}

// Option configures Load.
type Option func(*Options)

// WithExtensions keeps only files whose extension is one of exts.
func WithExtensions(exts ...string) Option {
	return func(o *Options) { o.Extensions = exts }
}

// WithSkipDirs skips directories with any of the given names.
func WithSkipDirs(names ...string) Option {
	return func(o *Options) { o.SkipDirs = names }
}

// WithHidden includes dot-prefixed files and directories.
func WithHidden(show bool) Option {
	return func(o *Options) { o.ShowHidden = show }
}

// DefaultOptions returns the options used when Load is called without any:
// every file, the assets directory skipped, hidden entries skipped.
func DefaultOptions() Options {
	return Options{SkipDirs: []string{AssetsDir}}
}

// Load enumerates the workspace rooted at root and returns its snapshot.
// It creates <root>/assets if it is missing. Entries are kept in the order
// the directory listing returns them.
func Load(ctx context.Context, root string, opts ...Option) (*Info, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	fi, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
		}
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, root)
	}

	if err := EnsureAssets(root); err != nil {
		return nil, err
	}

	l := &loader{opts: o}
	tree, err := l.readDir(ctx, root)
	if err != nil {
		return nil, err
	}
	return &Info{Path: root, Tree: tree}, nil
}

// EnsureAssets creates the assets directory under root if it is absent.
func EnsureAssets(root string) error {
	p := filepath.Join(root, AssetsDir)
	if err := os.MkdirAll(p, 0755); err != nil {
		return fmt.Errorf("failed to create assets directory %s: %w", p, err)
	}
	return nil
}

type loader struct {
	opts Options
}

// readDir lists dir without sorting. os.File.ReadDir returns entries in
// directory order, unlike os.ReadDir which sorts by name.
func (l *loader) readDir(ctx context.Context, dir string) ([]*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	entries, err := f.ReadDir(-1)
	f.Close()
	if err != nil {
		return nil, err
	}

	nodes := []*Node{}
	for _, e := range entries {
		name := e.Name()
		if !l.opts.ShowHidden && strings.HasPrefix(name, ".") {
			continue
		}
		p := filepath.Join(dir, name)

		isDir := e.IsDir()
		if e.Type()&fs.ModeSymlink != 0 {
			target, err := os.Stat(p)
			if err != nil {
				continue // dangling link
			}
			if target.IsDir() {
				// Directory links are skipped so a link cycle cannot recurse forever.
				continue
			}
		}

		if isDir {
			if slices.Contains(l.opts.SkipDirs, name) {
				continue
			}
			children, err := l.readDir(ctx, p)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &Node{Kind: KindDirectory, Name: name, Path: p, Children: children})
			continue
		}

		if !l.keepFile(name) {
			continue
		}
		nodes = append(nodes, &Node{Kind: KindFile, Name: name, Path: p})
	}
	return nodes, nil
}

func (l *loader) keepFile(name string) bool {
	if len(l.opts.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(name)
	for _, want := range l.opts.Extensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// WalkFunc is called for each node in pre-order. Returning SkipDir from a
// directory skips its children; any other error stops the walk.
type WalkFunc func(n *Node, depth int) error

// Walk visits every node depth-first in enumeration order.
func (w *Info) Walk(fn WalkFunc) error {
	err := walkNodes(w.Tree, 0, fn)
	if errors.Is(err, SkipDir) {
		return nil
	}
	return err
}

func walkNodes(nodes []*Node, depth int, fn WalkFunc) error {
	for _, n := range nodes {
		err := fn(n, depth)
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}
		if n.IsDir() {
			if err := walkNodes(n.Children, depth+1, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Find returns the node with the given path, or nil.
func (w *Info) Find(path string) *Node {
	var found *Node
	w.Walk(func(n *Node, _ int) error {
		if n.Path == path {
			found = n
			return errStop
		}
		return nil
	})
	return found
}

var errStop = errors.New("stop")

// Files returns the paths of every file node in walk order.
func (w *Info) Files() []string {
	var files []string
	w.Walk(func(n *Node, _ int) error {
		if !n.IsDir() {
			files = append(files, n.Path)
		}
		return nil
	})
	return files
}

// Count returns the total number of nodes in the snapshot.
func (w *Info) Count() int {
	count := 0
	w.Walk(func(*Node, int) error {
		count++
		return nil
	})
	return count
}

// Contains reports whether path is a file in the snapshot.
func (w *Info) Contains(path string) bool {
	n := w.Find(path)
	return n != nil && !n.IsDir()
}
