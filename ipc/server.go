package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/mindraft/mindraft-core/gateway"
	"github.com/mindraft/mindraft-core/logger"
)

const (
	// SocketReadTimeout bounds each wait for the next request line. Handlers
	// use it to notice Close while a client is idle.
	SocketReadTimeout = 10 * time.Second

	// SocketWriteTimeout bounds writing a response.
	SocketWriteTimeout = 10 * time.Second

	// RequestTimeout bounds a single gateway operation.
	RequestTimeout = time.Minute

	// maxLineSize caps a single message; file contents travel inline.
	maxLineSize = 64 << 20
)

// Server serves gateway requests on a Unix socket.
type Server struct {
	socketPath string
	listener   net.Listener
	gw         gateway.Gateway
	log        *slog.Logger

	readTimeout time.Duration

	closed   bool
	closedMu sync.RWMutex
	wg       sync.WaitGroup // Tracks Run and connection handlers
	readyCh  chan struct{}

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewServer listens on socketPath, replacing any stale socket file.
func NewServer(socketPath string, gw gateway.Gateway) (*Server, error) {
	log := logger.WithComponent("ipc")

	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	log.Info("listening", "socketPath", socketPath)

	return &Server{
		socketPath:  socketPath,
		listener:    listener,
		gw:          gw,
		log:         log,
		readTimeout: SocketReadTimeout,
		readyCh:     make(chan struct{}),
		conns:       make(map[net.Conn]struct{}),
	}, nil
}

// SocketPath returns the path to the socket.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start launches Run in a goroutine.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.Run()
}

// WaitReady blocks until the server is accepting connections.
func (s *Server) WaitReady() {
	<-s.readyCh
}

// Run accepts connections until Close. Use Start rather than go Run().
func (s *Server) Run() {
	defer s.wg.Done()

	close(s.readyCh)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.log.Info("listener closed, stopping")
				return
			}
			s.log.Warn("accept error (continuing)", "error", err)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) isClosed() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	return s.closed
}

// track registers conn so Close can interrupt it. It reports false once the
// server is closed.
func (s *Server) track(conn net.Conn) bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	if s.closed {
		return false
	}
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	s.wg.Done()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()
	s.log.Debug("connection accepted")

	reader := newLineReader(conn)

	for {
		if s.isClosed() {
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		line, err := reader.ReadLine()
		if err != nil {
			// A timeout only means the client is idle or mid-message; the
			// reader keeps what it has so far.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !s.isClosed() && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("connection ended", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.log.Error("JSON parse error", "error", err)
			s.send(conn, Message{Error: &ErrorPayload{Kind: gateway.Unknown, Message: "malformed message"}})
			continue
		}

		s.send(conn, s.dispatch(msg))
	}
}

// lineReader reads newline-terminated messages of up to maxLineSize. Bytes
// read before an error are held until the next ReadLine, so a deadline that
// expires mid-message does not lose the start of it.
type lineReader struct {
	r       *bufio.Reader
	partial []byte
}

func newLineReader(conn net.Conn) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(conn, 64*1024)}
}

// ReadLine returns the next message including its trailing newline.
func (l *lineReader) ReadLine() ([]byte, error) {
	for {
		chunk, err := l.r.ReadSlice('\n')
		l.partial = append(l.partial, chunk...)
		if len(l.partial) > maxLineSize {
			l.partial = nil
			return nil, fmt.Errorf("message exceeds %d bytes", maxLineSize)
		}
		if err == nil {
			line := l.partial
			l.partial = nil
			return line, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
}

// dispatch runs one request against the gateway and builds its response.
func (s *Server) dispatch(msg Message) Message {
	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()

	resp := Message{Type: msg.Type, ID: msg.ID}
	invalid := func(op string) Message {
		resp.Error = &ErrorPayload{Kind: gateway.Unknown, Op: op, Message: "missing request body"}
		return resp
	}

	switch msg.Type {
	case MessageTypeLoadWorkspace:
		if msg.LoadReq == nil {
			return invalid(gateway.OpLoadWorkspace)
		}
		path := msg.LoadReq.Path
		s.log.Info("loadWorkspace", "id", msg.ID, "path", path)
		info, err := s.gw.LoadWorkspace(ctx, path)
		if err != nil {
			resp.Error = errorPayload(gateway.OpLoadWorkspace, path, err)
			return resp
		}
		resp.LoadResp = &LoadWorkspaceResponse{Workspace: info}

	case MessageTypeOpenFile:
		if msg.OpenReq == nil {
			return invalid(gateway.OpOpenFile)
		}
		path := msg.OpenReq.Path
		s.log.Debug("openFile", "id", msg.ID, "path", path)
		content, err := s.gw.OpenFile(ctx, path)
		if err != nil {
			resp.Error = errorPayload(gateway.OpOpenFile, path, err)
			return resp
		}
		resp.OpenResp = &OpenFileResponse{Content: content}

	case MessageTypeSaveFile:
		if msg.SaveReq == nil {
			return invalid(gateway.OpSaveFile)
		}
		path := msg.SaveReq.Path
		s.log.Debug("saveFile", "id", msg.ID, "path", path, "bytes", len(msg.SaveReq.Content))
		if err := s.gw.SaveFile(ctx, path, msg.SaveReq.Content); err != nil {
			resp.Error = errorPayload(gateway.OpSaveFile, path, err)
			return resp
		}
		resp.SaveResp = &SaveFileResponse{}

	default:
		s.log.Warn("unknown message type", "type", msg.Type)
		resp.Error = &ErrorPayload{Kind: gateway.Unknown, Op: string(msg.Type), Message: "unknown message type"}
	}
	return resp
}

func (s *Server) send(conn net.Conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("failed to marshal response", "type", msg.Type, "error", err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(SocketWriteTimeout))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.log.Error("write error", "error", err)
	}
}

// Close stops accepting, interrupts open connections and waits for every
// handler to return before removing the socket file.
func (s *Server) Close() error {
	s.log.Info("closing gateway server")

	s.closedMu.Lock()
	s.closed = true
	s.closedMu.Unlock()

	err := s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()

	if removeErr := os.Remove(s.socketPath); removeErr != nil && !os.IsNotExist(removeErr) {
		s.log.Warn("failed to remove socket file", "socketPath", s.socketPath, "error", removeErr)
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
