package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// maxPacketSize accommodates EDNS0 payloads well beyond the classic
	// 512-byte limit.
	maxPacketSize = 4096

	// defaultWorkers bounds the number of in-flight query handlers.
	defaultWorkers = 128
)

// Server owns the UDP listener and a bounded worker pool. Each received
// datagram is handled on its own goroutine; responses carry no ordering
// guarantee because clients correlate by transaction id.
type Server struct {
	handler *Handler
	addr    string
	workers int

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewServer creates a DNS server bound to addr when Run is called.
func NewServer(handler *Handler, addr string) *Server {
	return &Server{handler: handler, addr: addr, workers: defaultWorkers}
}

// LocalAddr returns the bound address, or nil before Run has bound the
// socket.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Run binds the socket and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("resolve listen address %s: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind DNS listener %s: %w", s.addr, err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	logrus.WithField("addr", conn.LocalAddr().String()).Info("DNS server listening")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	sem := make(chan struct{}, s.workers)
	buf := make([]byte, maxPacketSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logrus.WithError(err).Error("DNS read error")
			continue
		}

		pkt := make([]byte, n)
		copy(pkt, buf[:n])

		sem <- struct{}{}
		go func(pkt []byte, src *net.UDPAddr) {
			defer func() { <-sem }()

			reply := s.handler.HandleQuery(ctx, pkt)
			if reply == nil {
				return
			}
			if _, err := conn.WriteToUDP(reply, src); err != nil {
				// No retry: DNS clients retransmit on their own cadence.
				logrus.WithError(err).WithField("client", src.String()).Warn("Failed to send DNS reply")
			}
		}(pkt, src)
	}
}
