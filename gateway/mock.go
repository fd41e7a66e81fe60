package gateway

import (
	"context"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/mindraft/mindraft-core/workspace"
)

// Call records one request made against a Mock.
type Call struct {
	Op      string
	Path    string
	Content string // saveFile only
}

// Mock is an in-memory Gateway for tests. Files live in a map keyed by path;
// workspaces are any registered root under which files are listed.
//
// Errors can be injected per operation and a hook can block a call until the
// test releases it, which is how overlapping saves are exercised.
type Mock struct {
	mu sync.Mutex

	files      map[string]string
	workspaces map[string]bool
	calls      []Call
	errs       map[string]error

	// BeforeCall, when set, runs before every operation with the lock
	// released. Tests use it to hold a call in flight.
	BeforeCall func(c Call)
}

var _ Gateway = (*Mock)(nil)

// NewMock creates an empty mock gateway.
func NewMock() *Mock {
	return &Mock{
		files:      make(map[string]string),
		workspaces: make(map[string]bool),
		errs:       make(map[string]error),
	}
}

// AddWorkspace registers root as a loadable workspace.
func (m *Mock) AddWorkspace(root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaces[root] = true
}

// SetFile stores content at path.
func (m *Mock) SetFile(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
}

// File returns the stored content at path.
func (m *Mock) File(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.files[path]
	return c, ok
}

// Files returns a copy of all stored files.
func (m *Mock) Files() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.files)
}

// SetError makes every subsequent call to op fail with err until cleared with
// a nil err.
func (m *Mock) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// Calls returns a copy of the recorded calls in order.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times op was called.
func (m *Mock) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and injected errors, keeping stored files.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.errs = make(map[string]error)
}

func (m *Mock) begin(c Call) error {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	hook := m.BeforeCall
	m.mu.Unlock()

	if hook != nil {
		hook(c)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[c.Op]; err != nil {
		kind := KindOf(err)
		if kind == Unknown {
			kind = defaultKind(c.Op)
		}
		return Wrap(c.Op, c.Path, kind, err)
	}
	return nil
}

func defaultKind(op string) Kind {
	switch op {
	case OpLoadWorkspace:
		return NotFound
	case OpOpenFile:
		return ReadError
	case OpSaveFile:
		return WriteError
	}
	return Unknown
}

// LoadWorkspace implements Gateway. The tree lists stored files under root,
// flattened to the root level in path order.
func (m *Mock) LoadWorkspace(ctx context.Context, path string) (*workspace.Info, error) {
	if err := m.begin(Call{Op: OpLoadWorkspace, Path: path}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: OpLoadWorkspace, Path: path, Kind: Unknown, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.workspaces[path] {
		return nil, &Error{Op: OpLoadWorkspace, Path: path, Kind: NotFound, Err: workspace.ErrNotFound}
	}

	prefix := path + string(filepath.Separator)
	var keys []string
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			keys = append(keys, p)
		}
	}
	slices.Sort(keys)

	tree := []*workspace.Node{}
	for _, p := range keys {
		tree = append(tree, &workspace.Node{Kind: workspace.KindFile, Name: filepath.Base(p), Path: p})
	}
	return &workspace.Info{Path: path, Tree: tree}, nil
}

// OpenFile implements Gateway.
func (m *Mock) OpenFile(ctx context.Context, path string) (string, error) {
	if err := m.begin(Call{Op: OpOpenFile, Path: path}); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", &Error{Op: OpOpenFile, Path: path, Kind: Unknown, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[path]
	if !ok {
		return "", &Error{Op: OpOpenFile, Path: path, Kind: NotFound, Err: ErrNotFound}
	}
	return content, nil
}

// SaveFile implements Gateway.
func (m *Mock) SaveFile(ctx context.Context, path, content string) error {
	if err := m.begin(Call{Op: OpSaveFile, Path: path, Content: content}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &Error{Op: OpSaveFile, Path: path, Kind: Unknown, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
	return nil
}
