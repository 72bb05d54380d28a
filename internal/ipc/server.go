package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"blockandfocus/internal/state"
)

const (
	// readTimeout bounds how long an idle connection may hold a reader.
	readTimeout = 2 * time.Minute

	writeTimeout = 10 * time.Second

	// maxFrameSize caps a single request line.
	maxFrameSize = 256 * 1024
)

// Server accepts connections on a Unix socket and serves one typed request
// per line. Requests on a single connection run in receive order; connections
// are handled concurrently.
type Server struct {
	state *state.State
	path  string
}

// NewServer creates a control-channel server on the given socket path.
func NewServer(st *state.State, path string) *Server {
	return &Server{state: st, path: path}
}

// Run binds the socket and serves until ctx is cancelled. The socket file is
// replaced on start and removed on shutdown.
func (s *Server) Run(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create socket directory %s: %w", dir, err)
		}
	}
	_ = os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("bind control socket %s: %w", s.path, err)
	}
	defer func() {
		ln.Close()
		os.Remove(s.path)
	}()

	// Owner and group only: the socket permission is the access control.
	if err := os.Chmod(s.path, 0o660); err != nil {
		logrus.WithError(err).Warn("Failed to restrict control socket permissions")
	}

	logrus.WithField("path", s.path).Info("Control channel listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logrus.WithError(err).Error("Control channel accept error")
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	h := &handler{state: s.state}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if !scanner.Scan() {
			return
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp Response
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			logrus.WithError(err).Warn("Malformed control request")
			resp = errorResponse(CodeInvalidInput, "malformed request: "+err.Error())
		} else {
			logrus.WithField("type", req.Type).Debug("Control request received")
			resp = h.dispatch(req)
		}

		out, err := json.Marshal(resp)
		if err != nil {
			logrus.WithError(err).Error("Failed to encode control response")
			return
		}
		out = append(out, '\n')

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write(out); err != nil {
			logrus.WithError(err).Debug("Control connection write failed")
			return
		}
	}
}
