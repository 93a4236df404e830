package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omdarshan-4964/CodeStream/domain"
)

// Conn is one client websocket. Reads happen on the gateway goroutine,
// writes on writePump; Send only enqueues and never blocks.
type Conn struct {
	id       string
	room     string
	username string
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}

	writeWait time.Duration
	closeOnce sync.Once
}

func NewConn(id string, ws *websocket.Conn, queueSize int, writeWait time.Duration) *Conn {
	return &Conn{
		id:        id,
		ws:        ws,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
		writeWait: writeWait,
	}
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) Room() string     { return c.room }
func (c *Conn) Username() string { return c.username }

func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return domain.ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return domain.ErrSendQueueFull
	}
}

// Close stops the write pump and closes the socket. Safe to call from any
// goroutine, any number of times.
func (c *Conn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Conn) closeWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
