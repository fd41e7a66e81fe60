// Package ipc exposes a gateway.Gateway over a Unix socket so the UI process
// and the persistence process can live apart.
//
// The wire format is one JSON Message per line. Every request gets exactly
// one response carrying the same ID and Type.
package ipc

import (
	"errors"

	"github.com/mindraft/mindraft-core/gateway"
	"github.com/mindraft/mindraft-core/workspace"
)

// MessageType identifies the operation a Message carries.
type MessageType string

const (
	MessageTypeLoadWorkspace MessageType = gateway.OpLoadWorkspace
	MessageTypeOpenFile      MessageType = gateway.OpOpenFile
	MessageTypeSaveFile      MessageType = gateway.OpSaveFile
)

// Message wraps one request or response.
type Message struct {
	Type  MessageType   `json:"type"`
	ID    string        `json:"id"`
	Error *ErrorPayload `json:"error,omitempty"`

	LoadReq  *LoadWorkspaceRequest  `json:"loadReq,omitempty"`
	LoadResp *LoadWorkspaceResponse `json:"loadResp,omitempty"`
	OpenReq  *OpenFileRequest       `json:"openReq,omitempty"`
	OpenResp *OpenFileResponse      `json:"openResp,omitempty"`
	SaveReq  *SaveFileRequest       `json:"saveReq,omitempty"`
	SaveResp *SaveFileResponse      `json:"saveResp,omitempty"`
}

type LoadWorkspaceRequest struct {
	Path string `json:"path"`
}

type LoadWorkspaceResponse struct {
	Workspace *workspace.Info `json:"workspace"`
}

type OpenFileRequest struct {
	Path string `json:"path"`
}

type OpenFileResponse struct {
	Content string `json:"content"`
}

type SaveFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// SaveFileResponse is the acknowledgement of a write.
type SaveFileResponse struct{}

// ErrorPayload is a gateway error on the wire.
type ErrorPayload struct {
	Kind    gateway.Kind `json:"kind"`
	Op      string       `json:"op"`
	Path    string       `json:"path"`
	Message string       `json:"message"`
}

// errorPayload flattens err for the wire. Errors that are not gateway errors
// travel as Unknown.
func errorPayload(op, path string, err error) *ErrorPayload {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		msg := ""
		if ge.Err != nil {
			msg = ge.Err.Error()
		}
		return &ErrorPayload{Kind: ge.Kind, Op: ge.Op, Path: ge.Path, Message: msg}
	}
	return &ErrorPayload{Kind: gateway.Unknown, Op: op, Path: path, Message: err.Error()}
}

// Err rebuilds the gateway error so callers can classify it with
// gateway.KindOf or errors.Is.
func (p *ErrorPayload) Err() error {
	kind := p.Kind
	if kind == "" {
		kind = gateway.Unknown
	}
	var cause error
	if p.Message != "" {
		cause = errors.New(p.Message)
	}
	return &gateway.Error{Op: p.Op, Path: p.Path, Kind: kind, Err: cause}
}
