package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/omdarshan-4964/CodeStream/domain"
	"github.com/omdarshan-4964/CodeStream/hub"
	"github.com/omdarshan-4964/CodeStream/metrics"
	"github.com/omdarshan-4964/CodeStream/protocol"
)

type Options struct {
	SendQueueSize  int
	MaxMessageSize int64
	JoinTimeout    time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	AllowedOrigins []string
}

// Gateway admits websocket clients into a hub and owns each connection
// until it closes.
type Gateway struct {
	hub      *hub.Hub
	handler  *protocol.Handler
	codec    protocol.Codec
	opts     Options
	stats    *metrics.Recorder
	upgrader websocket.Upgrader

	mu      sync.Mutex
	closing bool
	conns   map[*Conn]struct{}
	wg      sync.WaitGroup
}

func NewGateway(codec protocol.Codec, h *hub.Hub, stats *metrics.Recorder, opts Options) *Gateway {
	g := &Gateway{
		hub:     h,
		handler: protocol.NewHandler(codec, h, stats),
		codec:   codec,
		opts:    opts,
		stats:   stats,
		conns:   make(map[*Conn]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), opts.AllowedOrigins)
		},
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.isClosing() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade error", "variant", g.codec.Name(), "error", err)
		return
	}

	conn := NewConn(uuid.NewString(), ws, g.opts.SendQueueSize, g.opts.WriteWait)
	ws.SetReadLimit(g.opts.MaxMessageSize)

	// Tracked from the upgrade on, so Shutdown also reaches connections
	// still waiting for their join message.
	if !g.track(conn) {
		_ = conn.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer g.untrack(conn)

	req, err := g.admit(conn, r)
	if err != nil {
		if g.isClosing() {
			return
		}
		g.stats.Rejected()
		slog.Warn("connection rejected", "variant", g.codec.Name(), "clientId", conn.ID(), "error", err)
		_ = conn.closeWith(websocket.ClosePolicyViolation, rejectReason(g.codec))
		return
	}

	conn.room = req.RoomID
	conn.username = req.Username
	if _, err := g.hub.Join(req.RoomID, conn, req.Username); err != nil {
		g.stats.Rejected()
		slog.Error("join failed", "room", req.RoomID, "clientId", conn.ID(), "error", err)
		_ = conn.closeWith(websocket.ClosePolicyViolation, err.Error())
		return
	}

	go conn.writePump(g.opts.PongWait * 9 / 10)
	g.readPump(conn)
}

// admit resolves the room for a fresh connection, from the URL or from a
// join message that must arrive first and within JoinTimeout.
func (g *Gateway) admit(conn *Conn, r *http.Request) (protocol.JoinRequest, error) {
	if req, ok := g.codec.Admission(r.URL.Query()); ok {
		return req, nil
	}
	if !g.codec.AcceptsJoinMessage() {
		return protocol.JoinRequest{}, domain.ErrMissingRoomIdentifier
	}

	_ = conn.ws.SetReadDeadline(time.Now().Add(g.opts.JoinTimeout))
	_, data, err := conn.ws.ReadMessage()
	if err != nil {
		return protocol.JoinRequest{}, fmt.Errorf("%w: no join message: %v", domain.ErrMissingRoomIdentifier, err)
	}
	in, err := g.codec.Decode(data)
	if err != nil {
		return protocol.JoinRequest{}, fmt.Errorf("%w: %v", domain.ErrMissingRoomIdentifier, err)
	}
	if in.Join == nil || in.Join.RoomID == "" {
		return protocol.JoinRequest{}, fmt.Errorf("%w: first message must join a room", domain.ErrMissingRoomIdentifier)
	}
	return *in.Join, nil
}

func (g *Gateway) readPump(conn *Conn) {
	defer g.teardown(conn)

	_ = conn.ws.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				// gorilla has already sent 1009; an oversized frame ends the connection
				g.stats.ProtocolError()
				slog.Warn("frame exceeds read limit", "clientId", conn.ID(), "room", conn.Room(), "limit", g.opts.MaxMessageSize)
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Error("read error", "clientId", conn.ID(), "room", conn.Room(), "error", err)
			}
			return
		}
		_ = g.handler.Handle(conn, data)
	}
}

// teardown runs exactly once per admitted connection, however it ended.
func (g *Gateway) teardown(conn *Conn) {
	g.hub.Leave(conn)
	_ = conn.Close()
}

// track registers conn with the gateway. It reports false once Shutdown
// has started; the WaitGroup is only added to under g.mu while open.
func (g *Gateway) track(conn *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.conns[conn] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(conn *Conn) {
	g.mu.Lock()
	delete(g.conns, conn)
	g.mu.Unlock()
	g.wg.Done()
}

func (g *Gateway) isClosing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closing
}

// Shutdown refuses new connections, closes every live one, including
// those still in admission, and waits for their cleanup.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	conns := make([]*Conn, 0, len(g.conns))
	for conn := range g.conns {
		conns = append(conns, conn)
	}
	g.mu.Unlock()

	for _, conn := range conns {
		_ = conn.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func rejectReason(codec protocol.Codec) string {
	if codec.AcceptsJoinMessage() {
		return "roomId required"
	}
	return "workspaceId required"
}

// originAllowed accepts exact origins and "scheme://*.suffix" wildcards.
// An empty allow-list or a request without Origin is always accepted.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
		if scheme, host, ok := strings.Cut(a, "://*."); ok {
			prefix := scheme + "://"
			if strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, "."+host) {
				return true
			}
		}
	}
	return false
}
