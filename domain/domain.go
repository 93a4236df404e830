package domain

import "errors"

// Kind is the closed set of event kinds the relay understands.
type Kind string

const (
	KindCodeChange Kind = "code_change"
	KindFileSelect Kind = "file_select"
	KindPresence   Kind = "presence"
)

var (
	ErrMissingRoomIdentifier = errors.New("missing room identifier")
	ErrProtocol              = errors.New("protocol error")
	ErrSendQueueFull         = errors.New("send queue full")
	ErrConnClosed            = errors.New("connection closed")
	ErrAlreadyJoined         = errors.New("connection already joined a room")
)

// Member is one entry of a room roster.
type Member struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Event is an inbound message ready for fan-out. Frame holds the encoded
// outbound bytes; the relay never looks inside it.
type Event struct {
	Kind     Kind
	RoomID   string
	SourceID string
	Frame    []byte
}

type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Broadcaster fans events out to the members of a room.
type Broadcaster interface {
	BroadcastExcludingSender(roomID string, event Event)
	BroadcastAll(roomID string, event Event)
}
