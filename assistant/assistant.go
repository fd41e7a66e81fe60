// Package assistant exposes the open note to an AI chat assistant as MCP
// tools, so suggested text can be inserted into the editor.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mindraft/mindraft-core/editor"
	"github.com/mindraft/mindraft-core/logger"
)

// Tool names.
const (
	ToolCurrentNote      = "current_note"
	ToolInsertSuggestion = "insert_suggestion"
)

// Session is the part of the edit session the assistant can see and change.
// *editor.Controller implements it.
type Session interface {
	CurrentFile() string
	Snapshot() editor.View
	AppendSuggestion(text string) error
}

// Note is the current_note tool result.
type Note struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Dirty   bool   `json:"dirty"`

	// AutosaveDue is set while unsaved edits are waiting on the debounce.
	AutosaveDue *time.Time `json:"autosaveDue,omitempty"`
}

// Server is the MCP tool server.
type Server struct {
	mcp     *server.MCPServer
	session Session
	log     *slog.Logger
}

// NewServer builds the MCP server and registers its tools.
func NewServer(session Session, version string) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			"mindraft",
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		session: session,
		log:     logger.WithComponent("assistant"),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolCurrentNote,
		mcp.WithDescription("Return the note open in the editor, including unsaved edits"),
	), s.handleCurrentNote)

	s.mcp.AddTool(mcp.NewTool(ToolInsertSuggestion,
		mcp.WithDescription("Append text to the end of the open note, separated by a blank line"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Markdown text to insert"),
		),
	), s.handleInsertSuggestion)
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves the tools over stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) handleCurrentNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view := s.session.Snapshot()
	if view.CurrentFile == "" {
		return mcp.NewToolResultError("No note is open"), nil
	}

	note := Note{Path: view.CurrentFile, Content: view.LiveContent, Dirty: view.Dirty}
	if view.AutosavePending {
		due := view.AutosaveDue
		note.AutosaveDue = &due
	}
	data, err := json.Marshal(note)
	if err != nil {
		return nil, fmt.Errorf("failed to encode note: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleInsertSuggestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	err = s.session.AppendSuggestion(text)
	switch {
	case errors.Is(err, editor.ErrNoFile):
		return mcp.NewToolResultError("Open a note before inserting a suggestion"), nil
	case errors.Is(err, editor.ErrSuppressed):
		return mcp.NewToolResultError("The user is typing; try again in a moment"), nil
	case err != nil:
		s.log.Error("insert failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	path := s.session.CurrentFile()
	s.log.Info("suggestion inserted", "path", path, "bytes", len(text))
	return mcp.NewToolResultText(fmt.Sprintf("Inserted suggestion into %s", path)), nil
}
