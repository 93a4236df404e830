package protocol

import (
	"net/url"

	"github.com/omdarshan-4964/CodeStream/domain"
)

// JoinRequest carries the room a connection asks to join.
type JoinRequest struct {
	RoomID   string
	Username string
}

// Inbound is one decoded client frame: either a join request or an event
// with its outbound frame already encoded.
type Inbound struct {
	Join   *JoinRequest
	Kind   domain.Kind
	RoomID string // room the client addressed, empty if none
	Frame  []byte
}

// Codec is one wire dialect of the relay.
type Codec interface {
	Name() string
	// Admission extracts a join request from connection URL parameters.
	Admission(query url.Values) (JoinRequest, bool)
	// AcceptsJoinMessage reports whether a connection without URL
	// admission may still join with its first frame.
	AcceptsJoinMessage() bool
	Decode(data []byte) (Inbound, error)
}

// RosterCodec is implemented by dialects that carry presence.
type RosterCodec interface {
	Codec
	EncodeRoster(roster []domain.Member) ([]byte, error)
}
