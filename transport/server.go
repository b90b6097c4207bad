package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/binsim/binsynth-server/internal/engine"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Server exposes an Engine over the WebSocket request/reply protocol,
// plus a small JSON status endpoint for operators.
type Server struct {
	engine *engine.Engine
	hub    *hub
	log    *slog.Logger

	// engineMu serializes every HandleBlock call across all connections,
	// matching the single-threaded cooperative scheduling model: the
	// core has no internal locking because nothing may mutate it
	// concurrently, so the transport layer is the one place ordering is
	// enforced against multiple client connections.
	engineMu sync.Mutex

	httpServer   *http.Server
	statusServer *http.Server // nil unless statusAddr is non-empty and differs from addr
}

// NewServer builds a Server serving eng over WebSocket at "/ws" on
// addr. Diagnostics are served at "/status": on addr itself when
// statusAddr is empty or equal to addr, or on its own listener
// otherwise, so operators can expose the status endpoint on a
// loopback-only address while the WebSocket port faces the network.
func NewServer(addr, statusAddr string, eng *engine.Engine) *Server {
	s := &Server{
		engine: eng,
		hub:    newHub(),
		log:    slog.Default().With("component", "transport"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	if statusAddr == "" || statusAddr == addr {
		mux.HandleFunc("/status", s.handleStatus)
	} else {
		statusMux := http.NewServeMux()
		statusMux.HandleFunc("/status", s.handleStatus)
		s.statusServer = &http.Server{Addr: statusAddr, Handler: statusMux}
	}

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving in the background. The returned channel receives
// the error from the WebSocket listener once it stops (nil after a
// clean Shutdown). Errors from the separate status listener, if any,
// are logged rather than propagated: losing diagnostics is not fatal
// to serving audio.
func (s *Server) Start() <-chan error {
	done := make(chan error, 1)
	go func() {
		s.log.Info("transport: listening", "addr", s.httpServer.Addr)
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()

	if s.statusServer != nil {
		go func() {
			s.log.Info("transport: status listening", "addr", s.statusServer.Addr)
			if err := s.statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Warn("transport: status listener stopped", "error", err)
			}
		}()
	}

	return done
}

// Shutdown gracefully stops the HTTP server(s).
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.statusServer != nil {
		if serr := s.statusServer.Shutdown(ctx); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

// ClientCount returns the number of currently connected WebSocket
// clients, for the monitor display.
func (s *Server) ClientCount() int { return s.hub.ClientCount() }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	fmt.Fprintf(w, `{"clients":%d,"blockSize":%d,"channels":%d}`, s.hub.ClientCount(), s.engine.BlockSize(), len(snap.Channels))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("transport: upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn}
	s.hub.register(c)
	defer func() {
		s.hub.unregister(c)
		conn.Close()
	}()

	blockSize := s.engine.BlockSize()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			s.log.Warn("transport: ignoring non-binary frame", "type", msgType)
			continue
		}

		block, channel, az, el, err := DecodeRequest(payload, blockSize)
		if err != nil {
			s.log.Warn("transport: dropping malformed request", "error", err)
			continue
		}

		out, err := s.dispatch(channel, block, az, el)
		if err != nil {
			s.log.Warn("transport: dropping request after engine error", "channel", channel, "error", err)
			continue
		}

		if err := c.writeBinary(EncodeReply(out, blockSize)); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(channel int, block []float32, azimuth, elevation int) ([]float32, error) {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	return s.engine.HandleBlock(channel, block, azimuth, elevation)
}
