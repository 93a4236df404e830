package hub

import (
	"log/slog"

	"github.com/omdarshan-4964/CodeStream/domain"
	"github.com/omdarshan-4964/CodeStream/metrics"
)

// Publisher forwards relayed events to other relay instances.
type Publisher interface {
	Publish(roomID string, event domain.Event)
}

// Relay delivers events to room members. Delivery is fire-and-forget: a
// failed send drops that one delivery and never blocks the rest.
type Relay struct {
	registry    *Registry
	maxFailures int32
	publisher   Publisher
	stats       *metrics.Recorder
}

func NewRelay(registry *Registry, maxFailures int) *Relay {
	return &Relay{registry: registry, maxFailures: int32(maxFailures)}
}

func (r *Relay) BroadcastExcludingSender(roomID string, event domain.Event) {
	r.registry.withRoom(roomID, func(rm *room) {
		r.deliverLocked(rm, event, event.SourceID)
	})
	r.stats.Relayed(event.Kind)
	if r.publisher != nil {
		r.publisher.Publish(roomID, event)
	}
}

// BroadcastAll delivers to every local member. Events arriving from other
// instances also come through here since their sender is never local.
func (r *Relay) BroadcastAll(roomID string, event domain.Event) {
	r.registry.withRoom(roomID, func(rm *room) {
		r.deliverLocked(rm, event, "")
	})
	r.stats.Relayed(event.Kind)
}

func (r *Relay) deliverLocked(rm *room, event domain.Event, exclude string) {
	for _, m := range rm.members {
		id := m.conn.ID()
		if id == exclude {
			continue
		}
		if err := m.conn.Send(event.Frame); err != nil {
			r.stats.Dropped()
			n := m.failures.Add(1)
			slog.Debug("delivery dropped", "room", rm.id, "clientId", id, "kind", event.Kind, "error", err)
			if r.maxFailures > 0 && n == r.maxFailures {
				r.stats.ForcedDisconnect()
				slog.Warn("disconnecting slow client", "room", rm.id, "clientId", id, "failures", n)
				go func(c domain.Connection) {
					_ = c.Close()
				}(m.conn)
			}
			continue
		}
		m.failures.Store(0)
	}
}
