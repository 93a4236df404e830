package protocol

import (
	"fmt"
	"log/slog"

	"github.com/omdarshan-4964/CodeStream/domain"
	"github.com/omdarshan-4964/CodeStream/metrics"
)

// Conn is a connection that has been admitted to a room.
type Conn interface {
	domain.Connection
	Room() string
}

type Handler struct {
	codec       Codec
	broadcaster domain.Broadcaster
	stats       *metrics.Recorder
}

func NewHandler(codec Codec, b domain.Broadcaster, stats *metrics.Recorder) *Handler {
	return &Handler{codec: codec, broadcaster: b, stats: stats}
}

func (h *Handler) Codec() Codec { return h.codec }

// Handle relays one frame from a joined connection to the rest of its
// room. A protocol error drops the frame; the connection stays joined.
func (h *Handler) Handle(conn Conn, data []byte) error {
	in, err := h.codec.Decode(data)
	if err == nil {
		err = h.validate(conn, in)
	}
	if err != nil {
		h.stats.ProtocolError()
		slog.Warn("invalid message", "clientId", conn.ID(), "room", conn.Room(), "error", err)
		return err
	}

	h.broadcaster.BroadcastExcludingSender(conn.Room(), domain.Event{
		Kind:     in.Kind,
		RoomID:   conn.Room(),
		SourceID: conn.ID(),
		Frame:    in.Frame,
	})
	return nil
}

func (h *Handler) validate(conn Conn, in Inbound) error {
	if in.Join != nil {
		return fmt.Errorf("%w: already joined room %q", domain.ErrProtocol, conn.Room())
	}
	if in.RoomID != "" && in.RoomID != conn.Room() {
		return fmt.Errorf("%w: addressed room %q but joined %q", domain.ErrProtocol, in.RoomID, conn.Room())
	}
	return nil
}
