// Package wshost implements transport.Host over a local WebSocket server.
//
// The messaging agent (browser extension) dials in to /agent and identifies
// itself with a HELLO frame; until then the connection is addressed by its
// remote address. All frames on the socket are JSON wire envelopes.
package wshost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wabridge/internal/transport"
	"wabridge/internal/wire"
	logx "wabridge/pkg/logx"
)

type Config struct {
	// ListenAddr should stay on loopback; the extension connects locally.
	ListenAddr string
}

type Host struct {
	cfg Config
	log logx.Logger

	upgrader websocket.Upgrader
	srv      *http.Server

	mu    sync.Mutex
	conns map[string]*agentConn // keyed by agent id (or remote addr pre-HELLO)
	out   chan<- transport.Inbound

	// OnDisconnect, when set, is invoked with the agent id after its
	// connection closes.
	OnDisconnect func(agentID string)
}

type agentConn struct {
	id string

	writeMu sync.Mutex // gorilla allows one concurrent writer
	ws      *websocket.Conn
}

func New(cfg Config, log logx.Logger) *Host {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8787"
	}
	return &Host{
		cfg:   cfg,
		log:   log,
		conns: map[string]*agentConn{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local bridge; the extension connects from an extension origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Host) Start(ctx context.Context, out chan<- transport.Inbound) error {
	h.mu.Lock()
	h.out = out
	h.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/agent", h.handleAgent)
	h.srv = &http.Server{Addr: h.cfg.ListenAddr, Handler: mux}

	ln := make(chan error, 1)
	go func() {
		err := h.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			ln <- err
		}
	}()
	go func() {
		<-ctx.Done()
		_ = h.Stop(context.Background())
	}()

	// Surface immediate bind failures synchronously.
	select {
	case err := <-ln:
		return fmt.Errorf("wshost: listen %s: %w", h.cfg.ListenAddr, err)
	case <-time.After(100 * time.Millisecond):
	}

	h.log.Info("agent endpoint listening", logx.String("addr", h.cfg.ListenAddr))
	return nil
}

func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	conns := make([]*agentConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
	if h.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return h.srv.Shutdown(shutdownCtx)
	}
	return nil
}

func (h *Host) Broadcast(f wire.Frame) error {
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}
	h.mu.Lock()
	conns := make([]*agentConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.writeRaw(data); err != nil {
			h.log.Debug("broadcast write failed", logx.String("agent", c.id), logx.Err(err))
		}
	}
	return nil
}

func (h *Host) SendTo(agentID string, f wire.Frame) error {
	h.mu.Lock()
	c := h.conns[agentID]
	h.mu.Unlock()
	if c == nil {
		return fmt.Errorf("wshost: agent %q not connected", agentID)
	}
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}
	return c.writeRaw(data)
}

func (c *agentConn) writeRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (h *Host) handleAgent(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logx.Err(err))
		return
	}

	c := &agentConn{id: r.RemoteAddr, ws: ws}
	h.register(c)
	defer h.unregister(c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := wire.Decode(data)
		if err != nil {
			h.log.Debug("dropping undecodable frame", logx.String("agent", c.id), logx.Err(err))
			continue
		}

		// HELLO rebinds the connection from its transient address to the
		// agent's stable installation id.
		if hello, ok := f.Payload.(wire.Hello); ok && hello.AgentID != "" {
			h.rebind(c, hello.AgentID)
		}

		h.mu.Lock()
		out := h.out
		h.mu.Unlock()
		if out != nil {
			out <- transport.Inbound{AgentID: c.id, Frame: f}
		}
	}
}

func (h *Host) register(c *agentConn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Host) rebind(c *agentConn, agentID string) {
	h.mu.Lock()
	delete(h.conns, c.id)
	// A reconnecting agent replaces its stale entry.
	if old := h.conns[agentID]; old != nil && old != c {
		_ = old.ws.Close()
	}
	c.id = agentID
	h.conns[agentID] = c
	h.mu.Unlock()
}

func (h *Host) unregister(c *agentConn) {
	h.mu.Lock()
	cur := h.conns[c.id]
	if cur == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
	_ = c.ws.Close()
	if cur == c && h.OnDisconnect != nil {
		h.OnDisconnect(c.id)
	}
}
