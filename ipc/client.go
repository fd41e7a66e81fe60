package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindraft/mindraft-core/gateway"
	"github.com/mindraft/mindraft-core/workspace"
)

// Client is a gateway.Gateway backed by a Server on the other end of a Unix
// socket. Requests are serialized over the single connection.
type Client struct {
	socketPath string
	conn       net.Conn
	reader     *lineReader
	mu         sync.Mutex
}

var _ gateway.Gateway = (*Client)(nil)

// Dial connects to the server listening on socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		socketPath: socketPath,
		conn:       conn,
		reader:     newLineReader(conn),
	}, nil
}

// LoadWorkspace implements gateway.Gateway.
func (c *Client) LoadWorkspace(ctx context.Context, path string) (*workspace.Info, error) {
	resp, err := c.roundTrip(ctx, Message{Type: MessageTypeLoadWorkspace, LoadReq: &LoadWorkspaceRequest{Path: path}}, path)
	if err != nil {
		return nil, err
	}
	if resp.LoadResp == nil || resp.LoadResp.Workspace == nil {
		return nil, c.protocolError(gateway.OpLoadWorkspace, path, "missing workspace in response")
	}
	return resp.LoadResp.Workspace, nil
}

// OpenFile implements gateway.Gateway.
func (c *Client) OpenFile(ctx context.Context, path string) (string, error) {
	resp, err := c.roundTrip(ctx, Message{Type: MessageTypeOpenFile, OpenReq: &OpenFileRequest{Path: path}}, path)
	if err != nil {
		return "", err
	}
	if resp.OpenResp == nil {
		return "", c.protocolError(gateway.OpOpenFile, path, "missing content in response")
	}
	return resp.OpenResp.Content, nil
}

// SaveFile implements gateway.Gateway.
func (c *Client) SaveFile(ctx context.Context, path, content string) error {
	resp, err := c.roundTrip(ctx, Message{Type: MessageTypeSaveFile, SaveReq: &SaveFileRequest{Path: path, Content: content}}, path)
	if err != nil {
		return err
	}
	if resp.SaveResp == nil {
		return c.protocolError(gateway.OpSaveFile, path, "missing acknowledgement")
	}
	return nil
}

// roundTrip writes req and reads its response. Transport failures are
// reported as Unknown gateway errors; server-side failures keep their kind.
func (c *Client) roundTrip(ctx context.Context, req Message, path string) (Message, error) {
	op := string(req.Type)
	if err := ctx.Err(); err != nil {
		return Message{}, &gateway.Error{Op: op, Path: path, Kind: gateway.Unknown, Err: err}
	}

	req.ID = uuid.New().String()
	data, err := json.Marshal(req)
	if err != nil {
		return Message{}, &gateway.Error{Op: op, Path: path, Kind: gateway.Unknown, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(SocketWriteTimeout))
	c.conn.SetReadDeadline(time.Time{})

	// The read waits on ctx alone; ending ctx unblocks it.
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return Message{}, c.transportError(ctx, op, path, fmt.Errorf("write %s request: %w", op, err))
	}

	var resp Message
	for {
		line, err := c.reader.ReadLine()
		if err != nil {
			return Message{}, c.transportError(ctx, op, path, fmt.Errorf("read %s response: %w", op, err))
		}
		resp = Message{}
		if err := json.Unmarshal(line, &resp); err != nil {
			return Message{}, &gateway.Error{Op: op, Path: path, Kind: gateway.Unknown, Err: err}
		}
		// Responses to requests abandoned by an earlier cancellation are skipped.
		if resp.ID == req.ID {
			break
		}
	}
	if resp.Error != nil {
		return Message{}, resp.Error.Err()
	}
	return resp, nil
}

func (c *Client) transportError(ctx context.Context, op, path string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return &gateway.Error{Op: op, Path: path, Kind: gateway.Unknown, Err: err}
}

func (c *Client) protocolError(op, path, msg string) error {
	return &gateway.Error{Op: op, Path: path, Kind: gateway.Unknown, Err: fmt.Errorf("protocol error: %s", msg)}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
