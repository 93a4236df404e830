package hub

import (
	"github.com/omdarshan-4964/CodeStream/metrics"
)

const defaultMaxSendFailures = 8

// Hub is one relay core: a room registry, the relay that fans events out
// over it, and an optional presence tracker. Each protocol variant owns
// its own Hub so room namespaces never mix.
type Hub struct {
	*Registry
	*Relay
	presence *Presence
}

type Option func(*options)

type options struct {
	roster      RosterEncoder
	maxFailures int
	stats       *metrics.Recorder
	publisher   Publisher
}

// WithRoster enables presence: every join and leave rebroadcasts the full
// roster encoded by enc.
func WithRoster(enc RosterEncoder) Option {
	return func(o *options) { o.roster = enc }
}

// WithMaxSendFailures sets how many consecutive failed deliveries to one
// connection trigger a server-side close. Zero disables it.
func WithMaxSendFailures(n int) Option {
	return func(o *options) { o.maxFailures = n }
}

func WithMetrics(rec *metrics.Recorder) Option {
	return func(o *options) { o.stats = rec }
}

func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

func New(opts ...Option) *Hub {
	o := options{maxFailures: defaultMaxSendFailures}
	for _, opt := range opts {
		opt(&o)
	}

	reg := NewRegistry()
	reg.stats = o.stats

	relay := NewRelay(reg, o.maxFailures)
	relay.stats = o.stats
	relay.publisher = o.publisher

	h := &Hub{Registry: reg, Relay: relay}
	if o.roster != nil {
		h.presence = NewPresence(relay, o.roster)
		reg.changed = h.presence.emitLocked
	}
	return h
}

// PresenceEnabled reports whether this hub broadcasts rosters.
func (h *Hub) PresenceEnabled() bool { return h.presence != nil }
