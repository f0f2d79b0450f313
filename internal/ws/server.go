// Package ws exposes the hub over WebSocket. It upgrades HTTP connections
// with gobwas/ws, hands each accepted socket to the hub as a transport, and
// runs one reader goroutine per connection so that a client's messages are
// processed in arrival order.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pitchconnect/realtime/internal/hub"
	"github.com/pitchconnect/realtime/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // max silence on a read before the reader re-arms
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 100000,
		ReadTimeout:    90 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server upgrades HTTP connections to WebSocket and bridges them into the
// hub. Connection attempts are rate limited per client IP before the
// upgrade; authenticated connections get a dedicated reader goroutine that
// feeds inbound frames to the hub sequentially.
type Server struct {
	config     ServerConfig
	manager    *hub.Manager
	limiter    *ratelimit.Limiter
	httpServer *http.Server
	onReject   func(remoteIP, reason string)
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a Server over the given hub manager. The limiter guards
// the upgrade endpoint with the connection-attempt budget.
func NewServer(config ServerConfig, manager *hub.Manager, limiter *ratelimit.Limiter) *Server {
	return &Server{
		config:  config,
		manager: manager,
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

// SetOnReject registers a callback invoked when a connection attempt is
// turned away before or during acceptance.
func (s *Server) SetOnReject(fn func(remoteIP, reason string)) {
	s.onReject = fn
}

func (s *Server) reject(remoteIP, reason string) {
	if s.onReject != nil {
		s.onReject(remoteIP, reason)
	}
}

// Start configures the HTTP server and begins accepting WebSocket
// connections. It blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	log.Printf("ws: server listening on %s (max_conns=%d)",
		s.config.ListenAddr, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade checks the per-IP connection budget, upgrades the HTTP
// request to a WebSocket with the gobwas/ws zero-copy upgrader, and accepts
// the connection into the hub using the client's token claim. Rejections
// happen before the upgrade so the client gets a plain HTTP status.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.manager.Count() >= s.config.MaxConnections {
		s.reject(ratelimit.ClientIP(r), "over_capacity")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	res, err := s.limiter.Check(ratelimit.ClientIP(r), ratelimit.CategoryConnect)
	if err != nil {
		log.Printf("ws: connect rate check failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	ratelimit.SetHeaders(w.Header(), res)
	if !res.Allowed {
		s.reject(ratelimit.ClientIP(r), "rate_limited")
		http.Error(w, "connection attempts exceeded", http.StatusTooManyRequests)
		return
	}

	claim := tokenClaim(r)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	transport := newTransport(conn, s.config.WriteTimeout)
	c, err := s.manager.Accept(r.Context(), transport, claim)
	if err != nil {
		// Accept already closed the transport.
		s.reject(ratelimit.ClientIP(r), "auth_failed")
		log.Printf("ws: rejected connection from %s: %v", ratelimit.ClientIP(r), err)
		return
	}

	log.Printf("ws: new connection conn=%s user=%s (total=%d)",
		c.ID, c.Identity.UserID, s.manager.Count())

	go s.readLoop(c, conn)
}

// tokenClaim extracts the client's auth token from the token query
// parameter, falling back to an Authorization bearer header.
func tokenClaim(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// readLoop reads frames from one connection until it dies. Running a
// dedicated goroutine per connection keeps a client's messages strictly
// ordered: the next frame is not read until the hub has finished with the
// previous one.
func (s *Server) readLoop(c *hub.Conn, netConn net.Conn) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if s.config.ReadTimeout > 0 {
			_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// No traffic within the window. The heartbeat monitor
				// decides whether the connection is dead; keep reading.
				continue
			}
			s.manager.Disconnect(c.ID, hub.ReasonTransportError)
			return
		}

		if header.OpCode.IsControl() {
			switch header.OpCode {
			case ws.OpClose:
				s.manager.Disconnect(c.ID, hub.ReasonClientClose)
				return
			case ws.OpPing:
				_, _ = io.Copy(io.Discard, reader)
				_ = wsutil.WriteServerMessage(netConn, ws.OpPong, nil)
				s.manager.MarkAlive(c.ID)
			case ws.OpPong:
				_, _ = io.Copy(io.Discard, reader)
				s.manager.MarkAlive(c.ID)
			}
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				s.manager.Disconnect(c.ID, hub.ReasonTransportError)
				return
			}
		}
		if len(data) == 0 {
			continue
		}

		if err := s.manager.HandleInbound(c.ID, data); err != nil {
			// Unknown connection means it was evicted mid-read.
			return
		}
	}
}

// handleHealth responds with the server's health status as JSON, including
// the current connection count and uptime. It is used by load balancers for
// health checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.manager.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// Shutdown performs a graceful shutdown. It stops the HTTP listener,
// signals the reader loops to exit, and disconnects every active
// connection through the hub.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("ws: http shutdown error: %v", err)
	}

	s.manager.Shutdown()

	log.Printf("ws: server stopped, all connections closed")
	return nil
}
