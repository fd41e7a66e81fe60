package gateway

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/mindraft/mindraft-core/workspace"
)

// Kind classifies a persistence failure. Every kind is recoverable at the
// session level.
type Kind string

const (
	NotFound   Kind = "NotFound"
	ReadError  Kind = "ReadError"
	WriteError Kind = "WriteError"
	Unknown    Kind = "Unknown"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrNotFound = errors.New("not found")
	ErrRead     = errors.New("read error")
	ErrWrite    = errors.New("write error")
	ErrUnknown  = errors.New("unknown error")
)

func (k Kind) sentinel() error {
	switch k {
	case NotFound:
		return ErrNotFound
	case ReadError:
		return ErrRead
	case WriteError:
		return ErrWrite
	default:
		return ErrUnknown
	}
}

// Gateway operation names, used in errors, logs and metrics.
const (
	OpLoadWorkspace = "loadWorkspace"
	OpOpenFile      = "openFile"
	OpSaveFile      = "saveFile"
)

// Error is a failure crossing the persistence boundary. It carries enough
// context (operation and target path) for the host to render a message.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	cause := e.Err
	if cause == nil {
		cause = e.Kind.sentinel()
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, cause)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Wrap returns err as an *Error for op and path. An err that already is an
// *Error is returned unchanged. A nil err returns nil.
func Wrap(op, path string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// KindOf classifies any error. Structured gateway errors report their own
// kind; missing paths are NotFound; everything else is Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, workspace.ErrNotFound) {
		return NotFound
	}
	return Unknown
}

// classify maps a raw filesystem error onto a kind. fallback is used
// for failures that are neither missing paths nor cancellations.
func classify(err error, fallback Kind) Kind {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, workspace.ErrNotFound):
		return NotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Unknown
	default:
		return fallback
	}
}
