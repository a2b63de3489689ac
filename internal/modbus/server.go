package modbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TCPServer exposes a Slave over Modbus TCP.
type TCPServer struct {
	address     string
	slave       *Slave
	idleTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewTCPServer(address string, slave *Slave, idleTimeout time.Duration, logger *zap.Logger) *TCPServer {
	return &TCPServer{
		address:     address,
		slave:       slave,
		idleTimeout: idleTimeout,
		logger:      logger,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Start binds the listening socket and accepts in the background.
func (s *TCPServer) Start() error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.listener = lis
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("Starting Modbus TCP server", zap.String("address", lis.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop(ctx, lis)

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPServer) acceptLoop(ctx context.Context, lis net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Failed to accept client connection", zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *TCPServer) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	s.logger.Debug("Modbus client connected", zap.String("remote_addr", remote))

	err := s.slave.Serve(ctx, NewTCPServerTransport(conn, s.idleTimeout))
	switch {
	case err == nil, errors.Is(err, ErrClosed), errors.Is(err, context.Canceled):
		s.logger.Debug("Modbus client disconnected", zap.String("remote_addr", remote))
	case errors.Is(err, ErrTimeout):
		s.logger.Debug("Modbus client idle, closing", zap.String("remote_addr", remote))
	default:
		s.logger.Warn("Modbus connection failed",
			zap.String("remote_addr", remote),
			zap.Error(err))
	}
}

// Shutdown stops accepting, drops open connections and waits for handlers.
func (s *TCPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down Modbus TCP server")

	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	err := s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.listener = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("modbus server shutdown: %w", ctx.Err())
	}

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}
