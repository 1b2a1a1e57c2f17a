// Package stunserver embeds a small STUN server for deployments where the
// client and the video backend share a LAN and no public STUN is
// reachable. The session prepends its descriptor to the negotiated ICE
// servers when enabled.
package stunserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pion/turn/v4"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const listenerCount = 2

// Server is a STUN-only responder built on pion/turn. It answers binding
// requests and refuses allocations (no credentials are configured).
type Server struct {
	publicIP string
	port     int
	logger   *zap.Logger

	mu        sync.Mutex
	server    *turn.Server
	cancel    context.CancelFunc
	isRunning bool
	done      chan struct{}
	startTime time.Time
}

// New prepares a server that will listen on the given UDP port. publicIP is
// the address advertised in ICE URLs; on a LAN this is the host's own
// address.
func New(publicIP string, port int, logger *zap.Logger) (*Server, error) {
	if net.ParseIP(publicIP) == nil {
		return nil, fmt.Errorf("invalid public IP %q", publicIP)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		publicIP: publicIP,
		port:     port,
		logger:   logger.Named("stun-server"),
		done:     make(chan struct{}),
	}, nil
}

// URL returns the ICE URL clients should use.
func (s *Server) URL() string {
	return fmt.Sprintf("stun:%s:%d", s.publicIP, s.port)
}

// Start binds the UDP listeners and begins answering binding requests.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("STUN server already running")
	}

	runCtx, cancel := context.WithCancel(ctx)

	addr := fmt.Sprintf("0.0.0.0:%d", s.port)

	// Several listeners share the port with SO_REUSEPORT; the kernel
	// load-balances received packets across them.
	listenerConfig := &net.ListenConfig{
		Control: func(network, address string, conn syscall.RawConn) error {
			var operr error
			if err := conn.Control(func(fd uintptr) {
				operr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}); err != nil {
				return err
			}
			return operr
		},
	}

	packetConnConfigs := make([]turn.PacketConnConfig, 0, listenerCount)
	for i := 0; i < listenerCount; i++ {
		conn, err := listenerConfig.ListenPacket(runCtx, "udp4", addr)
		if err != nil {
			cancel()
			for _, cfg := range packetConnConfigs {
				cfg.PacketConn.Close()
			}
			return fmt.Errorf("failed to bind UDP listener on %s: %w", addr, err)
		}
		packetConnConfigs = append(packetConnConfigs, turn.PacketConnConfig{
			PacketConn: conn,
			RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
				RelayAddress: net.ParseIP(s.publicIP),
				Address:      "0.0.0.0",
			},
		})
		s.logger.Debug("STUN listener bound",
			zap.Int("listener", i),
			zap.String("addr", conn.LocalAddr().String()))
	}

	server, err := turn.NewServer(turn.ServerConfig{
		Realm: "dreamstream",
		// No users: every allocation attempt is refused, binding
		// requests still get answered.
		AuthHandler: func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
			return nil, false
		},
		PacketConnConfigs: packetConnConfigs,
	})
	if err != nil {
		cancel()
		for _, cfg := range packetConnConfigs {
			cfg.PacketConn.Close()
		}
		return fmt.Errorf("failed to create STUN server: %w", err)
	}

	s.server = server
	s.cancel = cancel
	s.isRunning = true
	s.startTime = time.Now()

	go func() {
		defer close(s.done)
		<-runCtx.Done()
	}()

	s.logger.Info("STUN server started", zap.String("url", s.URL()))
	return nil
}

// Stop shuts the server down. Safe to call when not running.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}
	s.cancel()
	if err := s.server.Close(); err != nil {
		return fmt.Errorf("failed to close STUN server: %w", err)
	}
	s.isRunning = false

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for STUN server to stop")
	}
	s.logger.Info("STUN server stopped",
		zap.Duration("uptime", time.Since(s.startTime)))
	return nil
}

// IsRunning reports whether the server is currently serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
