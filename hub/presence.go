package hub

import (
	"log/slog"

	"github.com/omdarshan-4964/CodeStream/domain"
)

// RosterEncoder renders a roster into an outbound frame.
type RosterEncoder func(roster []domain.Member) ([]byte, error)

// Presence rebroadcasts the full roster after every membership change.
// It keeps no state; the roster is read from the room at the moment of the
// change, under the same lock that applied it.
type Presence struct {
	relay  *Relay
	encode RosterEncoder
}

func NewPresence(relay *Relay, encode RosterEncoder) *Presence {
	return &Presence{relay: relay, encode: encode}
}

func (p *Presence) emitLocked(rm *room) {
	if len(rm.members) == 0 {
		return
	}
	roster := rm.rosterLocked()
	frame, err := p.encode(roster)
	if err != nil {
		slog.Error("roster encode failed", "room", rm.id, "error", err)
		return
	}
	p.relay.deliverLocked(rm, domain.Event{Kind: domain.KindPresence, RoomID: rm.id, Frame: frame}, "")
	p.relay.stats.Relayed(domain.KindPresence)
}
