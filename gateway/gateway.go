// Package gateway defines the persistence boundary the edit session talks to
// and provides the local filesystem implementation plus an in-memory mock.
//
// All operations may block; callers pass a context and must treat every
// returned error as recoverable. Errors are *Error values classified into
// NotFound, ReadError, WriteError and Unknown.
package gateway

import (
	"context"

	"github.com/mindraft/mindraft-core/workspace"
)

// Gateway reads workspace trees and reads and writes file contents.
type Gateway interface {
	// LoadWorkspace builds a snapshot of the workspace rooted at path.
	// Fails with NotFound if the path is missing or unreadable.
	LoadWorkspace(ctx context.Context, path string) (*workspace.Info, error)

	// OpenFile returns the text content of the file at path.
	// Fails with NotFound or ReadError.
	OpenFile(ctx context.Context, path string) (string, error)

	// SaveFile replaces the content of the file at path.
	// Fails with WriteError.
	SaveFile(ctx context.Context, path, content string) error
}
